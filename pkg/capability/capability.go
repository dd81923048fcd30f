// Package capability provides the host's stable bridge methods.
package capability

import (
	"encoding/json"
	"fmt"

	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/clipboard"
	"github.com/rexliu/webshell/pkg/imaging"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// Deps are the collaborators behind the method set.
type Deps struct {
	Info        InfoSource
	Clipboard   clipboard.Clipboard
	Extractor   imaging.Extractor
	ImageLimits imaging.Limits
	Logger      Logger
	Journal     Journal
}

// All returns the full method set wired to deps.
func All(deps Deps) []bridge.Capability {
	return []bridge.Capability{
		AppInfo{Source: deps.Info},
		ClipboardGet{Clipboard: deps.Clipboard},
		ClipboardSet{Clipboard: deps.Clipboard},
		Echo{},
		RemoveBackground{Extractor: deps.Extractor, Limits: deps.ImageLimits, Logger: deps.Logger},
		Log{Logger: deps.Logger, Journal: deps.Journal},
	}
}

type ok struct {
	OK bool `json:"ok"`
}

// decode unmarshals params into v; absent params leave v untouched.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
