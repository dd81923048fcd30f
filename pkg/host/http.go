package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rexliu/webshell/pkg/transport"
)

// BridgePath accepts one request envelope per POST.
const BridgePath = "/bridge"

// NewHTTPHandler serves static web content from contentDir and the bridge
// endpoint. An empty contentDir serves only the bridge.
func NewHTTPHandler(d Dispatcher, contentDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BridgePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, transport.MaxFrameSize+1))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if len(body) > transport.MaxFrameSize {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		resp := d.Handle(r.Context(), body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp)
	})
	if contentDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(contentDir)))
	}
	return mux
}

// ListenAndServe runs h on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	if logger != nil {
		logger.Printf("http: serving on http://%s", ln.Addr())
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
