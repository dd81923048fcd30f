package transport

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after the stream has been torn down.
var ErrClosed = errors.New("transport closed")

// Stream carries framed messages over a reader/writer pair. One goroutine
// reads frames once a message callback is installed; writes are serialized.
type Stream struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer

	writeMu sync.Mutex

	mu         sync.Mutex
	onMessage  func([]byte)
	onTeardown []func(error)
	cause      error

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewStream wraps r and w. closers are closed on teardown.
func NewStream(r io.Reader, w io.Writer, closers ...io.Closer) *Stream {
	return &Stream{r: r, w: w, closers: closers, done: make(chan struct{})}
}

// NewConnStream wraps a connection used for both directions.
func NewConnStream(conn io.ReadWriteCloser) *Stream {
	return NewStream(conn, conn, conn)
}

// Send writes one framed message.
func (s *Stream) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	err := writeFrame(s.w, msg)
	s.writeMu.Unlock()
	if err != nil && !errors.Is(err, ErrFrameTooLarge) {
		s.shutdown(err)
	}
	return err
}

// OnMessage installs the message callback and starts reading. Frames are
// delivered in arrival order on the reader goroutine.
func (s *Stream) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
	s.startOnce.Do(func() { go s.readLoop() })
}

// OnTeardown registers fn to run once when the stream ends. If the stream has
// already ended fn runs immediately.
func (s *Stream) OnTeardown(fn func(error)) {
	s.mu.Lock()
	select {
	case <-s.done:
		cause := s.cause
		s.mu.Unlock()
		fn(cause)
		return
	default:
	}
	s.onTeardown = append(s.onTeardown, fn)
	s.mu.Unlock()
}

// Done is closed when the stream ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the failure that ended the stream, nil for a clean close or EOF.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Close tears the stream down.
func (s *Stream) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Stream) readLoop() {
	for {
		frame, err := readFrame(s.r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = nil
			}
			select {
			case <-s.done:
				err = nil
			default:
			}
			s.shutdown(err)
			return
		}
		s.mu.Lock()
		fn := s.onMessage
		s.mu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}
}

func (s *Stream) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		close(s.done)
		callbacks := s.onTeardown
		s.onTeardown = nil
		s.mu.Unlock()

		for _, c := range s.closers {
			_ = c.Close()
		}
		for _, fn := range callbacks {
			fn(cause)
		}
	})
}
