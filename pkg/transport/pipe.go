package transport

import "sync"

const pipeBuffer = 256

// PipeEnd is one side of an in-memory connected pair. Messages sent on one
// end arrive, in order, at the other end's message callback.
type PipeEnd struct {
	peer  *PipeEnd
	state *pipeState
	inbox chan []byte

	mu         sync.Mutex
	onMessage  func([]byte)
	onTeardown []func(error)
	startOnce  sync.Once
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

// Pipe returns a connected pair. Closing either end tears down both.
func Pipe() (*PipeEnd, *PipeEnd) {
	state := &pipeState{done: make(chan struct{})}
	a := &PipeEnd{state: state, inbox: make(chan []byte, pipeBuffer)}
	b := &PipeEnd{state: state, inbox: make(chan []byte, pipeBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

// Send queues msg for the peer.
func (p *PipeEnd) Send(msg []byte) error {
	buf := append([]byte(nil), msg...)
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.inbox <- buf:
		return nil
	case <-p.state.done:
		return ErrClosed
	}
}

// OnMessage installs the message callback and starts delivery.
func (p *PipeEnd) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
	p.startOnce.Do(func() { go p.deliver() })
}

// OnTeardown registers fn to run when the pair is closed.
func (p *PipeEnd) OnTeardown(fn func(error)) {
	p.mu.Lock()
	select {
	case <-p.state.done:
		p.mu.Unlock()
		fn(nil)
		return
	default:
	}
	p.onTeardown = append(p.onTeardown, fn)
	p.mu.Unlock()
}

// Close tears down both ends.
func (p *PipeEnd) Close() error {
	p.state.once.Do(func() {
		close(p.state.done)
		p.fireTeardown()
		p.peer.fireTeardown()
	})
	return nil
}

// Done is closed when the pair is torn down.
func (p *PipeEnd) Done() <-chan struct{} { return p.state.done }

func (p *PipeEnd) fireTeardown() {
	p.mu.Lock()
	callbacks := p.onTeardown
	p.onTeardown = nil
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn(nil)
	}
}

func (p *PipeEnd) deliver() {
	for {
		select {
		case msg := <-p.inbox:
			p.mu.Lock()
			fn := p.onMessage
			p.mu.Unlock()
			if fn != nil {
				fn(msg)
			}
		case <-p.state.done:
			return
		}
	}
}
