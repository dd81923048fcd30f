// Package host serves the bridge dispatcher to connected front-ends.
package host

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"sync"

	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/transport"
)

// Dispatcher turns one request envelope into one response envelope.
// *bridge.Router satisfies it.
type Dispatcher interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Server accepts bridge sessions over a Unix socket or any other transport.
type Server struct {
	dispatcher Dispatcher
	logger     Logger

	ln       net.Listener
	endpoint string
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	inflight sync.WaitGroup
}

// Session is one connected front-end. Its context is cancelled when the
// transport tears down, which cancels that session's in-flight handlers.
type Session struct {
	transport bridge.Transport
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Done is closed when the session's transport has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down.
func (s *Session) Close() error { return s.transport.Close() }

// NewServer constructs a server around d.
func NewServer(d Dispatcher, logger Logger) *Server {
	return &Server{
		dispatcher: d,
		logger:     logger,
		sessions:   make(map[*Session]struct{}),
	}
}

// Start begins accepting connections on the Unix socket at endpoint. A stale
// socket file left by a previous run is removed first.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	if err := CleanupSocket(endpoint); err != nil {
		return err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.endpoint = endpoint
	s.mu.Unlock()
	go s.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		s.Serve(ctx, transport.NewConnStream(conn))
	}
}

// Serve attaches t as a new session. Every inbound message is dispatched on
// its own goroutine, so responses may leave out of order.
func (s *Server) Serve(ctx context.Context, t bridge.Transport) *Session {
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{transport: t, ctx: sctx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = t.Close()
		close(sess.done)
		return sess
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	t.OnTeardown(func(err error) {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			if err != nil {
				s.logf("session closed: %v", err)
			}
			close(sess.done)
		})
	})
	t.OnMessage(func(msg []byte) {
		s.mu.Lock()
		if s.closed || sctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.inflight.Done()
			resp := s.dispatcher.Handle(sctx, msg)
			if err := t.Send(resp); err != nil && sctx.Err() == nil {
				s.logf("send response: %v", err)
			}
		}()
	})
	return sess
}

// Sessions reports the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Endpoint returns the socket path the server listens on.
func (s *Server) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Stop shuts down the listener, closes every session and waits for in-flight
// handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, endpoint := s.ln, s.endpoint
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range sessions {
		sess.cancel()
		_ = sess.Close()
	}
	s.inflight.Wait()
	if endpoint != "" {
		_ = CleanupSocket(endpoint)
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// CleanupSocket removes a socket file if present.
func CleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
