package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Stable method names served by the host.
const (
	MethodAppGetInfo         = "app.getInfo"
	MethodClipboardGetText   = "clipboard.getText"
	MethodClipboardSetText   = "clipboard.setText"
	MethodAIEcho             = "ai.echo"
	MethodAIRemoveBackground = "ai.removeBackground"
	MethodAppLog             = "app.log"
)

// HandlerFunc processes request params and returns a result or a failure.
// params is nil when the request carried none.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Capability binds one method name to its handler.
type Capability interface {
	Method() string
	Handle(ctx context.Context, params json.RawMessage) (any, error)
}

// Schemer is implemented by capabilities that publish a JSON Schema for
// their params.
type Schemer interface {
	Schema() string
}

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

type entry struct {
	method  string
	handler HandlerFunc
}

// Registry maps method names, case-insensitively, to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]entry
	logger   Logger
}

// NewRegistry builds a registry from a static capability list.
func NewRegistry(logger Logger, caps ...Capability) (*Registry, error) {
	r := &Registry{handlers: make(map[string]entry), logger: logger}
	for _, c := range caps {
		if err := r.RegisterCapability(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register installs a handler for a method. A later registration of the
// same name (ignoring case) replaces the earlier one.
func (r *Registry) Register(method string, handler HandlerFunc) {
	key := strings.ToLower(strings.TrimSpace(method))
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]entry)
	}
	if prev, ok := r.handlers[key]; ok && r.logger != nil {
		r.logger.Printf("WARN bridge: %q replaces handler registered as %q", method, prev.method)
	}
	r.handlers[key] = entry{method: method, handler: handler}
}

// RegisterCapability installs c, wrapping its handler with param schema
// validation when c implements Schemer.
func (r *Registry) RegisterCapability(c Capability) error {
	if c == nil || strings.TrimSpace(c.Method()) == "" {
		return fmt.Errorf("register capability: missing method name")
	}
	handler := HandlerFunc(c.Handle)
	if s, ok := c.(Schemer); ok && s.Schema() != "" {
		v, err := compileSchema(s.Schema())
		if err != nil {
			return fmt.Errorf("register %s: %w", c.Method(), err)
		}
		handler = v.wrap(handler)
	}
	r.Register(c.Method(), handler)
	return nil
}

// Resolve looks up the handler for method.
func (r *Registry) Resolve(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Methods returns the registered method names, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for _, e := range r.handlers {
		out = append(out, e.method)
	}
	sort.Strings(out)
	return out
}
