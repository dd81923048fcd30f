package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
)

const pngDataURLPrefix = "data:image/png;base64,"

// DefaultMaxPixels caps decoded dimensions when Limits.MaxPixels is zero.
const DefaultMaxPixels = 24_000_000

// ErrTooLarge is returned for images over a size limit.
var ErrTooLarge = errors.New("image too large")

// Limits bound what DecodeBase64 accepts. MaxBytes applies to the encoded
// image and is disabled when zero; MaxPixels applies to width*height.
type Limits struct {
	MaxBytes  int
	MaxPixels int
}

func (l Limits) maxPixels() int {
	if l.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return l.MaxPixels
}

// DecodeBase64 decodes a data URL or bare base64 string into an image.
// Dimensions are checked from the header before pixels are allocated.
func DecodeBase64(s string, lim Limits) (image.Image, error) {
	payload := strings.TrimSpace(s)
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if lim.MaxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > lim.MaxBytes+2 {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, lim.MaxBytes)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: empty %dx%d image", cfg.Width, cfg.Height)
	}
	if limit := lim.maxPixels(); cfg.Width > limit/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, limit)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodePNGDataURL encodes img as a PNG data URL.
func EncodePNGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
