// Package clipboard provides text clipboard access for the bridge.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sysclip "github.com/atotto/clipboard"
)

// ErrUnsupported is returned when the platform clipboard cannot be reached.
var ErrUnsupported = errors.New("system clipboard unsupported on this platform")

// Clipboard reads and writes plain text.
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// New returns the backend named by config: "system" or "memory".
func New(backend string) (Clipboard, error) {
	switch backend {
	case "", "system":
		return System{}, nil
	case "memory":
		return &Memory{}, nil
	default:
		return nil, fmt.Errorf("unknown clipboard backend %q", backend)
	}
}

// System is the OS clipboard.
type System struct{}

// ReadText returns the clipboard text.
func (System) ReadText(ctx context.Context) (string, error) {
	if sysclip.Unsupported {
		return "", ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sysclip.ReadAll()
}

// WriteText replaces the clipboard contents with text.
func (System) WriteText(ctx context.Context, text string) error {
	if sysclip.Unsupported {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sysclip.WriteAll(text)
}

// Memory is a process-local clipboard, used headless and in tests.
type Memory struct {
	mu   sync.Mutex
	text string
}

// ReadText returns the stored text; empty when nothing was written.
func (m *Memory) ReadText(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

// WriteText stores text.
func (m *Memory) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}
