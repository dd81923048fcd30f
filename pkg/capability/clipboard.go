package capability

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/clipboard"
)

var errNoClipboard = errors.New("clipboard unavailable")

type textParams struct {
	Text string `json:"text"`
}

const textSchema = `{
	"type": "object",
	"properties": {"text": {"type": "string"}}
}`

// ClipboardGet serves clipboard.getText.
type ClipboardGet struct {
	Clipboard clipboard.Clipboard
}

func (ClipboardGet) Method() string { return bridge.MethodClipboardGetText }

func (c ClipboardGet) Handle(ctx context.Context, _ json.RawMessage) (any, error) {
	if c.Clipboard == nil {
		return nil, errNoClipboard
	}
	text, err := c.Clipboard.ReadText(ctx)
	if err != nil {
		return nil, err
	}
	return textParams{Text: text}, nil
}

// ClipboardSet serves clipboard.setText. Missing text clears the clipboard.
type ClipboardSet struct {
	Clipboard clipboard.Clipboard
}

func (ClipboardSet) Method() string { return bridge.MethodClipboardSetText }

func (ClipboardSet) Schema() string { return textSchema }

func (c ClipboardSet) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	if c.Clipboard == nil {
		return nil, errNoClipboard
	}
	var p textParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := c.Clipboard.WriteText(ctx, p.Text); err != nil {
		return nil, err
	}
	return ok{OK: true}, nil
}
