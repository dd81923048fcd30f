package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rexliu/webshell/pkg/bridge"

// CallRecord summarizes one dispatched request.
type CallRecord struct {
	ID       string
	Method   string
	Code     string // empty on success
	Duration time.Duration
	At       time.Time
}

// Observer receives a record for every dispatched request.
type Observer interface {
	ObserveCall(ctx context.Context, rec CallRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec CallRecord)

// ObserveCall calls f.
func (f ObserverFunc) ObserveCall(ctx context.Context, rec CallRecord) { f(ctx, rec) }

// Router decodes request envelopes, routes them to registered handlers and
// encodes exactly one response envelope per request.
type Router struct {
	registry *Registry
	logger   Logger
	observer Observer
	tracer   trace.Tracer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l Logger) RouterOption { return func(r *Router) { r.logger = l } }

// WithObserver installs a dispatch observer.
func WithObserver(o Observer) RouterOption { return func(r *Router) { r.observer = o } }

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) RouterOption { return func(r *Router) { r.tracer = t } }

// NewRouter constructs a router over registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = &Registry{}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Registry returns the router's handler registry.
func (r *Router) Registry() *Registry { return r.registry }

type ctxKey int

const (
	methodKey ctxKey = iota
	requestIDKey
)

// MethodFromContext returns the method being dispatched, if any.
func MethodFromContext(ctx context.Context) string {
	s, _ := ctx.Value(methodKey).(string)
	return s
}

// RequestIDFromContext returns the id of the request being dispatched, if any.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// Handle processes one raw request and returns the encoded response. It never
// fails: every path ends in a well-formed envelope.
func (r *Router) Handle(ctx context.Context, raw []byte) []byte {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "bridge.dispatch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	resp, method := r.dispatch(ctx, raw)

	span.SetAttributes(
		attribute.String("bridge.id", resp.ID),
		attribute.Bool("bridge.ok", resp.OK),
	)
	rec := CallRecord{ID: resp.ID, Method: method, Duration: time.Since(start), At: start}
	if !resp.OK {
		rec.Code = resp.Error.Code
		span.SetAttributes(attribute.String("bridge.error_code", resp.Error.Code))
		span.SetStatus(codes.Error, resp.Error.Message)
		r.logf("bridge: %s id=%q failed: %s", rec.Method, resp.ID, resp.Error)
	}
	if r.observer != nil {
		r.observer.ObserveCall(ctx, rec)
	}
	return encodeOrFallback(resp)
}

func (r *Router) dispatch(ctx context.Context, raw []byte) (Response, string) {
	req, perr := ParseRequest(raw)
	if perr != nil {
		return NewFailure(req.ID, perr), req.Method
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("bridge.method", req.Method))

	handler, ok := r.registry.Resolve(req.Method)
	if !ok {
		return NewFailure(req.ID, Errorf(CodeMethodNotFound, "Unknown method: "+req.Method, nil)), req.Method
	}

	ctx = context.WithValue(ctx, methodKey, req.Method)
	ctx = context.WithValue(ctx, requestIDKey, req.ID)
	result, err := invoke(ctx, handler, req.Params)
	if err != nil {
		return NewFailure(req.ID, exceptionFrom(err)), req.Method
	}
	return NewResult(req.ID, result), req.Method
}

func invoke(ctx context.Context, h HandlerFunc, params json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("handler panic: %v", p)
		}
	}()
	v, err := h(ctx, params)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		if isNull(raw) {
			return nil, nil
		}
		return raw, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if isNull(out) {
		return nil, nil
	}
	return out, nil
}

func exceptionFrom(err error) *Error {
	e := &Error{Code: CodeException, Message: err.Error()}
	var d Detailer
	var be *Error
	switch {
	case errors.As(err, &d):
		if raw, merr := json.Marshal(d.ErrorDetails()); merr == nil {
			e.Details = raw
		}
	case errors.As(err, &be):
		e.Message = be.Message
		e.Details = be.Details
	}
	return e
}

func encodeOrFallback(resp Response) []byte {
	out, err := EncodeResponse(resp)
	if err == nil {
		return out
	}
	fallback := NewFailure(resp.ID, &Error{Code: CodeException, Message: "encode response: " + err.Error()})
	out, _ = json.Marshal(fallback)
	return out
}

func (r *Router) logf(format string, v ...any) {
	if r.logger != nil {
		r.logger.Printf(format, v...)
	}
}
