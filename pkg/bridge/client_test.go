package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outbound requests; tests answer through reply.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []Request
	onMessage  func([]byte)
	onTeardown func(error)
	listeners  int
	sendErr    error
	closed     bool
	sentCh     chan Request
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sentCh: make(chan Request, 64)}
}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	f.sentCh <- req
	return nil
}

func (f *fakeTransport) OnMessage(fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
	f.listeners++
}

func (f *fakeTransport) OnTeardown(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTeardown = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) reply(resp Response) {
	raw, err := EncodeResponse(resp)
	if err != nil {
		panic(err)
	}
	f.deliver(raw)
}

func (f *fakeTransport) deliver(raw []byte) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn(raw)
}

func (f *fakeTransport) teardown(err error) {
	f.mu.Lock()
	fn := f.onTeardown
	f.mu.Unlock()
	fn(err)
}

func (f *fakeTransport) next(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-f.sentCh:
		return req
	case <-time.After(time.Second):
		t.Fatal("no request sent")
		return Request{}
	}
}

func TestClientResolves(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)

	call := c.Go(MethodAIEcho, map[string]string{"text": "hi"}, time.Second)
	req := ft.next(t)
	require.NotNil(t, req.V)
	assert.Equal(t, Version, *req.V)
	assert.Equal(t, MethodAIEcho, req.Method)
	assert.Equal(t, call.ID, req.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(req.Params))
	assert.Equal(t, 1, c.Pending())

	ft.reply(NewResult(req.ID, json.RawMessage(`{"text":"echo: hi"}`)))
	done := <-call.Done
	require.NoError(t, done.Error)
	assert.JSONEq(t, `{"text":"echo: hi"}`, string(done.Result))
	assert.Equal(t, 0, c.Pending())
}

func TestClientRejectsWithHostError(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	go func() {
		req := ft.next(t)
		ft.reply(NewFailure(req.ID, Errorf(CodeMethodNotFound, "Unknown method: foo.bar", nil)))
	}()
	_, err := c.Invoke(context.Background(), "foo.bar", nil)
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CodeMethodNotFound, be.Code)
	assert.Equal(t, "Unknown method: foo.bar", be.Message)
}

func TestClientTimeout(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)

	start := time.Now()
	_, err := c.Invoke(context.Background(), "never.answers", nil, WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeTimeout), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 0, c.Pending())

	// A late response is dropped without effect.
	req := ft.next(t)
	ft.reply(NewResult(req.ID, json.RawMessage(`1`)))
	assert.Equal(t, 0, c.Pending())
}

func TestClientDefaultTimeout(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft, WithDefaultTimeout(20*time.Millisecond))
	call := c.Go("slow", nil, 0)
	done := <-call.Done
	assert.True(t, IsCode(done.Error, CodeTimeout))
}

func TestClientContextCancel(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ft.next(t)
		cancel()
	}()
	_, err := c.Invoke(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsCode(err, CodeCancelled))
	assert.ErrorContains(t, err, "Call slow cancelled")
	assert.Equal(t, 0, c.Pending())
}

func TestClientTeardownRejectsPending(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	a := c.Go("a", nil, time.Minute)
	b := c.Go("b", nil, time.Minute)
	ft.next(t)
	ft.next(t)

	cause := errors.New("renderer gone")
	ft.teardown(cause)

	for _, call := range []*Call{a, b} {
		done := <-call.Done
		assert.True(t, IsCode(done.Error, CodePageUnload))
		assert.ErrorIs(t, done.Error, cause)
	}
	assert.Equal(t, 0, c.Pending())

	late := <-c.Go("c", nil, time.Minute).Done
	assert.True(t, IsCode(late.Error, CodePageUnload))
}

func TestClientCloseRejectsPending(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	call := c.Go("a", nil, time.Minute)
	require.NoError(t, c.Close())
	done := <-call.Done
	assert.True(t, IsCode(done.Error, CodePageUnload))
	assert.True(t, ft.closed)
}

func TestClientSendFailure(t *testing.T) {
	ft := newFakeTransport()
	sendErr := errors.New("pipe broken")
	ft.sendErr = sendErr
	c := NewClient(ft)

	_, err := c.Invoke(context.Background(), "a", nil)
	assert.True(t, IsCode(err, CodeSendFailed))
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 0, c.Pending())
}

func TestConnectWithoutHost(t *testing.T) {
	missing := errors.New("no endpoint")
	_, err := Connect(context.Background(), func(context.Context) (Transport, error) {
		return nil, missing
	})
	assert.True(t, IsCode(err, CodeNoHost))
	assert.ErrorIs(t, err, missing)
}

func TestClientOutOfOrder(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)

	first := c.Go(MethodAIEcho, map[string]string{"text": "one"}, time.Second)
	second := c.Go(MethodAIEcho, map[string]string{"text": "two"}, time.Second)
	r1, r2 := ft.next(t), ft.next(t)

	ft.reply(NewResult(r2.ID, json.RawMessage(`"two"`)))
	ft.reply(NewResult(r1.ID, json.RawMessage(`"one"`)))

	d1, d2 := <-first.Done, <-second.Done
	assert.JSONEq(t, `"one"`, string(d1.Result))
	assert.JSONEq(t, `"two"`, string(d2.Result))
}

func TestClientIgnoresForeignMessages(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	call := c.Go("a", nil, time.Second)
	req := ft.next(t)

	ft.deliver([]byte(`not json`))
	ft.deliver([]byte(`{"v":1,"id":"` + req.ID + `","method":"echo"}`))
	wrongVersion := NewResult(req.ID, json.RawMessage(`0`))
	wrongVersion.V = 2
	ft.reply(wrongVersion)
	ft.reply(NewResult("someone-else", json.RawMessage(`0`)))
	assert.Equal(t, 1, c.Pending())

	ft.reply(NewResult(req.ID, json.RawMessage(`1`)))
	done := <-call.Done
	assert.JSONEq(t, `1`, string(done.Result))
}

func TestClientListenerInstalledOnce(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	for i := 0; i < 5; i++ {
		c.Go("a", nil, time.Second)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, 1, ft.listeners)
}

func TestClientIDGenerator(t *testing.T) {
	ft := newFakeTransport()
	var n atomic.Int64
	c := NewClient(ft, WithIDGenerator(func() string { return fmt.Sprintf("fixed-%d", n.Add(1)) }))
	call := c.Go("a", nil, time.Second)
	assert.Equal(t, "fixed-1", call.ID)
}

func TestClientDuplicateID(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft, WithIDGenerator(func() string { return "same" }))

	first := c.Go("a", nil, time.Minute)
	req := ft.next(t)
	assert.Equal(t, "same", req.ID)

	second := c.Go("b", nil, time.Hour)
	done := <-second.Done
	require.Error(t, done.Error)
	assert.True(t, IsCode(done.Error, CodeInvalidRequest))
	assert.ErrorContains(t, done.Error, "duplicate call id same")
	assert.Equal(t, 1, c.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, "c", nil)
	assert.True(t, IsCode(err, CodeInvalidRequest))
	assert.Equal(t, 1, c.Pending())

	ft.reply(NewResult("same", json.RawMessage(`{"from":"a"}`)))
	done = <-first.Done
	require.NoError(t, done.Error)
	assert.JSONEq(t, `{"from":"a"}`, string(done.Result))
	assert.Equal(t, 0, c.Pending())
}

func TestInvokeInto(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(ft)
	go func() {
		req := ft.next(t)
		ft.reply(NewResult(req.ID, json.RawMessage(`{"name":"webshell","version":"1.0.0","packaged":true}`)))
	}()
	var out struct {
		Name     string `json:"name"`
		Packaged bool   `json:"packaged"`
	}
	require.NoError(t, c.InvokeInto(context.Background(), MethodAppGetInfo, nil, &out))
	assert.Equal(t, "webshell", out.Name)
	assert.True(t, out.Packaged)
}

// Responses, timeouts and teardown race; every call still completes once.
func TestClientAtMostOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		ft := newFakeTransport()
		ft.sentCh = make(chan Request, 256)
		c := NewClient(ft)

		calls := make([]*Call, 100)
		for i := range calls {
			calls[i] = c.Go("race", nil, time.Duration(i%5)*time.Millisecond+time.Millisecond)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, call := range calls {
				ft.reply(NewResult(call.ID, json.RawMessage(`true`)))
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(2 * time.Millisecond)
			ft.teardown(nil)
		}()
		wg.Wait()

		for _, call := range calls {
			select {
			case <-call.Done:
			case <-time.After(time.Second):
				t.Fatal("call never completed")
			}
			select {
			case <-call.Done:
				t.Fatal("call completed twice")
			default:
			}
		}
		assert.Equal(t, 0, c.Pending())
	}
}
