// Package imaging implements object mask extraction for ai.removeBackground.
//
// Handlers depend only on Extractor. Segmentation engines implement Backend
// and may expose readiness in several shapes; Adapter detects them so the
// handler never has to.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrNotReady is returned by Prepare when the backend cannot serve requests.
var ErrNotReady = errors.New("extractor not ready")

// ReadyState reports backend availability.
type ReadyState string

const (
	StateUnknown      ReadyState = "Unknown"
	StateReady        ReadyState = "Ready"
	StateNotReady     ReadyState = "NotReady"
	StateNotSupported ReadyState = "NotSupported"
)

// Hint steers extraction. Points are in image coordinates.
type Hint struct {
	IncludePoints []image.Point
	ExcludePoints []image.Point
}

// Readiness describes a Prepare attempt.
type Readiness struct {
	Before ReadyState
	After  ReadyState
	Status string
	Err    string
}

// Extractor is what the bridge handler calls.
type Extractor interface {
	Prepare(ctx context.Context) (Readiness, error)
	Extract(ctx context.Context, img image.Image, hint Hint) (*image.Gray, error)
}

// Backend is the minimum a segmentation engine provides.
type Backend interface {
	ObjectMask(ctx context.Context, img image.Image, hint Hint) (*image.Gray, error)
}

// EnsureResult is reported by backends with detailed readiness checks.
type EnsureResult struct {
	Status        string
	Err           error
	ExtendedError error
}

// Optional readiness shapes a backend may implement.
type (
	readyStater interface{ ReadyState() ReadyState }
	ensurer     interface{ EnsureReady(ctx context.Context) error }
	reporter    interface {
		EnsureReady(ctx context.Context) (EnsureResult, error)
	}
	asyncEnsurer interface{ EnsureReadyAsync() <-chan error }
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Adapter serializes access to a Backend and normalizes its readiness API.
type Adapter struct {
	backend Backend
	logger  Logger
	mu      sync.Mutex
}

// NewAdapter wraps b.
func NewAdapter(b Backend, logger Logger) *Adapter {
	return &Adapter{backend: b, logger: logger}
}

// Prepare brings the backend to a ready state when it supports that.
func (a *Adapter) Prepare(ctx context.Context) (Readiness, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Readiness{Before: a.state(), After: StateUnknown}
	err := a.ensure(ctx, &r)
	r.After = a.state()
	if err != nil {
		if r.Status == "" {
			r.Status = "Failure"
		}
		if r.Err == "" {
			r.Err = err.Error()
		}
		return r, err
	}
	if r.After == StateNotReady || r.After == StateNotSupported {
		return r, fmt.Errorf("%w: %s", ErrNotReady, r.After)
	}
	return r, nil
}

// Extract computes the object mask for img.
func (a *Adapter) Extract(ctx context.Context, img image.Image, hint Hint) (*image.Gray, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.backend.ObjectMask(ctx, img, hint)
}

func (a *Adapter) state() ReadyState {
	if rs, ok := a.backend.(readyStater); ok {
		if s := rs.ReadyState(); s != "" {
			return s
		}
	}
	return StateUnknown
}

func (a *Adapter) ensure(ctx context.Context, r *Readiness) error {
	switch b := a.backend.(type) {
	case reporter:
		res, err := b.EnsureReady(ctx)
		r.Status = res.Status
		if res.Err != nil {
			r.Err = res.Err.Error()
		}
		if err == nil && res.Err != nil {
			err = res.Err
		}
		if res.ExtendedError != nil {
			a.logf("imaging: ensure ready extended error: %v", res.ExtendedError)
		}
		return err
	case ensurer:
		return b.EnsureReady(ctx)
	case asyncEnsurer:
		ch := b.EnsureReadyAsync()
		if ch == nil {
			a.logf("imaging: EnsureReadyAsync returned nil; skipping readiness check")
			return nil
		}
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		if r.Before != StateReady {
			a.logf("imaging: backend %T has no readiness check; skipping", a.backend)
		}
		return nil
	}
}

func (a *Adapter) logf(format string, v ...any) {
	if a.logger != nil {
		a.logger.Printf(format, v...)
	}
}
