package capability

import (
	"context"
	"encoding/json"

	"github.com/rexliu/webshell/pkg/bridge"
)

// Echo serves ai.echo.
type Echo struct{}

func (Echo) Method() string { return bridge.MethodAIEcho }

func (Echo) Schema() string { return textSchema }

func (Echo) Handle(_ context.Context, params json.RawMessage) (any, error) {
	var p textParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return textParams{Text: "echo: " + p.Text}, nil
}
