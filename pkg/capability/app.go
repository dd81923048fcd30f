package capability

import (
	"context"
	"encoding/json"

	"github.com/rexliu/webshell/pkg/appinfo"
	"github.com/rexliu/webshell/pkg/bridge"
)

// InfoSource is satisfied by appinfo.Resolver.
type InfoSource interface {
	Resolve(ctx context.Context) appinfo.Info
}

// AppInfo serves app.getInfo.
type AppInfo struct {
	Source InfoSource
}

func (AppInfo) Method() string { return bridge.MethodAppGetInfo }

func (c AppInfo) Handle(ctx context.Context, _ json.RawMessage) (any, error) {
	src := c.Source
	if src == nil {
		src = appinfo.Resolver{}
	}
	return src.Resolve(ctx), nil
}
