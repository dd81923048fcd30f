package capability

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/storage/sqlite"
)

// Journal persists web log entries; satisfied by *sqlite.Store.
type Journal interface {
	AppendLog(ctx context.Context, e sqlite.LogEntry) (int64, error)
}

const logSchema = `{
	"type": "object",
	"properties": {
		"level": {"type": "string"},
		"message": {"type": "string"}
	}
}`

type logParams struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Meta    json.RawMessage `json:"meta"`
}

// Log serves app.log, forwarding front-end messages to the host log.
type Log struct {
	Logger  Logger
	Journal Journal
}

func (Log) Method() string { return bridge.MethodAppLog }

func (Log) Schema() string { return logSchema }

func (c Log) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	var p logParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	level := normalizeLevel(p.Level)
	meta := "null"
	if len(p.Meta) > 0 {
		meta = string(p.Meta)
	}
	if c.Logger != nil {
		switch level {
		case "warn":
			c.Logger.Warnf("WEB %s meta=%s", p.Message, meta)
		case "error":
			c.Logger.Errorf("WEB %s meta=%s", p.Message, meta)
		default:
			c.Logger.Infof("WEB %s meta=%s", p.Message, meta)
		}
	}
	if c.Journal != nil {
		entry := sqlite.LogEntry{Level: level, Message: p.Message}
		if meta != "null" {
			entry.Meta = meta
		}
		if _, err := c.Journal.AppendLog(ctx, entry); err != nil && c.Logger != nil {
			c.Logger.Warnf("app.log: journal: %v", err)
		}
	}
	return ok{OK: true}, nil
}

func normalizeLevel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
