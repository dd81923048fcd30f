package capability

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"math"
	"strings"

	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/imaging"
)

var errImageRequired = errors.New("imageBase64 is required")

const removeBackgroundSchema = `{
	"type": "object",
	"properties": {
		"imageBase64": {"type": "string"},
		"image": {"type": "string"},
		"includePoints": {"type": "array"},
		"excludePoints": {"type": "array"}
	}
}`

type removeBackgroundParams struct {
	ImageBase64   string            `json:"imageBase64"`
	Image         string            `json:"image"`
	IncludePoints []json.RawMessage `json:"includePoints"`
	ExcludePoints []json.RawMessage `json:"excludePoints"`
}

type maskResult struct {
	MaskBase64 *string `json:"maskBase64"`
}

// RemoveBackground serves ai.removeBackground.
type RemoveBackground struct {
	Extractor imaging.Extractor
	Limits    imaging.Limits
	Logger    Logger
}

func (RemoveBackground) Method() string { return bridge.MethodAIRemoveBackground }

func (RemoveBackground) Schema() string { return removeBackgroundSchema }

func (c RemoveBackground) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	var p removeBackgroundParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	src := p.ImageBase64
	if strings.TrimSpace(src) == "" {
		src = p.Image
	}
	if strings.TrimSpace(src) == "" {
		return nil, errImageRequired
	}
	img, err := imaging.DecodeBase64(src, c.Limits)
	if err != nil {
		return nil, err
	}

	if c.Extractor == nil {
		c.warnf("ai.removeBackground: no extractor configured")
		return maskResult{}, nil
	}
	r, err := c.Extractor.Prepare(ctx)
	if err != nil {
		c.warnf("ai.removeBackground: extractor unavailable before=%s after=%s status=%s: %v", r.Before, r.After, r.Status, err)
		return maskResult{}, nil
	}

	hint := imaging.Hint{IncludePoints: points(p.IncludePoints), ExcludePoints: points(p.ExcludePoints)}
	mask, err := c.Extractor.Extract(ctx, img, hint)
	if err != nil {
		return nil, err
	}
	url, err := imaging.EncodePNGDataURL(mask)
	if err != nil {
		return nil, err
	}
	return maskResult{MaskBase64: &url}, nil
}

func (c RemoveBackground) warnf(format string, v ...any) {
	if c.Logger != nil {
		c.Logger.Warnf(format, v...)
	}
}

// points keeps the entries shaped like {"x": int, "y": int}.
func points(raw []json.RawMessage) []image.Point {
	var out []image.Point
	for _, r := range raw {
		var p struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal(r, &p); err != nil || p.X == nil || p.Y == nil {
			continue
		}
		if *p.X != math.Trunc(*p.X) || *p.Y != math.Trunc(*p.Y) {
			continue
		}
		out = append(out, image.Point{X: int(*p.X), Y: int(*p.Y)})
	}
	return out
}
