package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a call waits for its response.
const DefaultTimeout = 30 * time.Second

// Transport is the messaging endpoint a Client sends through. OnMessage and
// OnTeardown install callbacks; the client installs each exactly once.
type Transport interface {
	Send(msg []byte) error
	OnMessage(fn func(msg []byte))
	OnTeardown(fn func(err error))
	Close() error
}

// Call is one in-flight invocation. Done receives the call exactly once,
// after Result or Error has been set.
type Call struct {
	ID     string
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  error
	Done   chan *Call

	timer *time.Timer
}

func (call *Call) finish() {
	call.Done <- call
}

// Client issues calls over a Transport and matches responses to callers by
// correlation id.
type Client struct {
	transport Transport
	logger    Logger
	timeout   time.Duration
	newID     func() string

	listenOnce sync.Once

	mu      sync.Mutex
	pending map[string]*Call
	closed  bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaultTimeout sets the timeout used when a call does not set one.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l Logger) ClientOption { return func(c *Client) { c.logger = l } }

// WithIDGenerator replaces NewCallID.
func WithIDGenerator(fn func() string) ClientOption { return func(c *Client) { c.newID = fn } }

// NewClient binds a client to t.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		timeout:   DefaultTimeout,
		newID:     NewCallID,
		pending:   make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect obtains the host endpoint through open and binds a client to it.
// A failing open is reported as a CodeNoHost error.
func Connect(ctx context.Context, open func(context.Context) (Transport, error), opts ...ClientOption) (*Client, error) {
	t, err := open(ctx)
	if err != nil {
		return nil, &Error{Code: CodeNoHost, Message: err.Error(), cause: err}
	}
	c := NewClient(t, opts...)
	c.listen()
	return c, nil
}

func (c *Client) listen() {
	c.listenOnce.Do(func() {
		c.transport.OnMessage(c.receive)
		c.transport.OnTeardown(c.teardown)
	})
}

// Go starts a call and returns immediately. A non-positive timeout selects
// the client's default.
func (c *Client) Go(method string, params any, timeout time.Duration) *Call {
	call := &Call{Method: method, Done: make(chan *Call, 1)}
	raw, err := encodeParams(params)
	if err != nil {
		call.Error = Errorf(CodeInvalidRequest, "encode params: "+err.Error(), nil)
		call.finish()
		return call
	}
	call.Params = raw
	call.ID = c.newID()
	if timeout <= 0 {
		timeout = c.timeout
	}

	payload, err := EncodeRequest(NewRequest(call.ID, method, raw))
	if err != nil {
		call.Error = Errorf(CodeInvalidRequest, "encode request: "+err.Error(), nil)
		call.finish()
		return call
	}

	c.listen()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.Error = Errorf(CodePageUnload, "Bridge session closed", nil)
		call.finish()
		return call
	}
	if _, dup := c.pending[call.ID]; dup {
		c.mu.Unlock()
		call.Error = Errorf(CodeInvalidRequest, "duplicate call id "+call.ID, nil)
		call.finish()
		return call
	}
	c.pending[call.ID] = call
	id := call.ID
	call.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	c.mu.Unlock()

	if err := c.transport.Send(payload); err != nil {
		if taken := c.take(id); taken != nil {
			taken.Error = &Error{Code: CodeSendFailed, Message: "Send failed: " + err.Error(), cause: err}
			taken.finish()
		}
	}
	return call
}

// Invoke performs a call and waits for its result. Cancelling ctx abandons
// the call with a cancelled error wrapping ctx.Err(); the host is not told.
func (c *Client) Invoke(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	call := c.Go(method, params, co.timeout)
	select {
	case <-call.Done:
	case <-ctx.Done():
		if c.abandon(call) {
			err := ctx.Err()
			call.Error = &Error{Code: CodeCancelled, Message: "Call " + method + " cancelled: " + err.Error(), cause: err}
			call.finish()
			return nil, call.Error
		}
		<-call.Done
	}
	return call.Result, call.Error
}

// InvokeInto performs a call and decodes its result into out.
func (c *Client) InvokeInto(ctx context.Context, method string, params, out any, opts ...CallOption) error {
	raw, err := c.Invoke(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the client's default timeout for one call.
func WithTimeout(d time.Duration) CallOption { return func(o *callOptions) { o.timeout = d } }

// Pending reports the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every pending call and closes the transport.
func (c *Client) Close() error {
	c.teardown(nil)
	return c.transport.Close()
}

// take removes and returns the pending call for id, stopping its timer.
// It is the only way an entry leaves the table.
func (c *Client) take(id string) *Call {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	return call
}

// abandon removes call only if it is the entry pending under its id.
func (c *Client) abandon(call *Call) bool {
	c.mu.Lock()
	own := c.pending[call.ID] == call
	if own {
		delete(c.pending, call.ID)
	}
	c.mu.Unlock()
	if own && call.timer != nil {
		call.timer.Stop()
	}
	return own
}

func (c *Client) receive(msg []byte) {
	resp, err := DecodeResponse(msg)
	if err != nil {
		c.logf("bridge client: ignoring message: %v", err)
		return
	}
	if resp.V != Version {
		return
	}
	call := c.take(resp.ID)
	if call == nil {
		return
	}
	if resp.OK {
		call.Result = resp.Result
	} else {
		call.Error = resp.Error
	}
	call.finish()
}

func (c *Client) expire(id string, after time.Duration) {
	call := c.take(id)
	if call == nil {
		return
	}
	call.Error = Errorf(CodeTimeout, fmt.Sprintf("Call %s timed out after %s", call.Method, after), nil)
	call.finish()
}

func (c *Client) teardown(cause error) {
	c.mu.Lock()
	c.closed = true
	calls := c.pending
	c.pending = make(map[string]*Call)
	c.mu.Unlock()

	msg := "Bridge session closed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.Error = &Error{Code: CodePageUnload, Message: msg, cause: cause}
		call.finish()
	}
}

func (c *Client) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(params)
}
