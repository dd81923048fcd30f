package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// EnvSocket names the variable the host sets for processes it launches.
const EnvSocket = "WEBSHELL_BRIDGE_SOCKET"

// ErrHostMissing means no host endpoint is reachable: the caller is not
// running inside the webshell host.
var ErrHostMissing = errors.New("bridge host endpoint missing (not running inside the webshell host)")

// Endpoint connects to the host advertised in the environment.
func Endpoint(ctx context.Context) (*Stream, error) {
	path := os.Getenv(EnvSocket)
	if path == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrHostMissing, EnvSocket)
	}
	return Dial(ctx, path)
}

// Dial connects to the host socket at path.
func Dial(ctx context.Context, path string) (*Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostMissing, err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConnStream(conn), nil
}
