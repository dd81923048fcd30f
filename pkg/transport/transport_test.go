package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"id":"1"}`)))
	require.NoError(t, WriteFrame(&buf, nil))

	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(got))
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	err = WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	_, err := ReadFrame(bytes.NewReader(buf.Bytes()[:6]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func streamPair() (*Stream, *Stream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a := NewStream(r2, w1, w1, r2)
	b := NewStream(r1, w2, w2, r1)
	return a, b
}

func TestStreamExchange(t *testing.T) {
	a, b := streamPair()
	defer a.Close()
	defer b.Close()

	got := make(chan []byte, 4)
	b.OnMessage(func(msg []byte) { got <- msg })
	a.OnMessage(func([]byte) {})

	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))
	assert.Equal(t, "one", string(<-got))
	assert.Equal(t, "two", string(<-got))
}

func TestStreamTeardown(t *testing.T) {
	a, b := streamPair()
	torn := make(chan error, 1)
	b.OnTeardown(func(err error) { torn <- err })
	b.OnMessage(func([]byte) {})

	require.NoError(t, a.Close())
	select {
	case err := <-torn:
		assert.NoError(t, err, "EOF is a clean shutdown")
	case <-time.After(time.Second):
		t.Fatal("teardown not observed")
	}
	<-b.Done()
	assert.ErrorIs(t, b.Send([]byte("x")), ErrClosed)

	late := make(chan struct{})
	b.OnTeardown(func(error) { close(late) })
	<-late
}

func TestStreamOversizeSendKeepsStream(t *testing.T) {
	a, b := streamPair()
	defer a.Close()
	defer b.Close()
	err := a.Send(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	select {
	case <-a.Done():
		t.Fatal("oversize frame must not close the stream")
	default:
	}
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	got := make(chan string, 8)
	b.OnMessage(func(msg []byte) { got <- string(msg) })

	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, a.Send([]byte(m)))
	}
	assert.Equal(t, "1", <-got)
	assert.Equal(t, "2", <-got)
	assert.Equal(t, "3", <-got)

	var torn [2]chan struct{}
	for i, end := range []*PipeEnd{a, b} {
		ch := make(chan struct{})
		torn[i] = ch
		end.OnTeardown(func(error) { close(ch) })
	}
	require.NoError(t, b.Close())
	<-torn[0]
	<-torn[1]
	assert.ErrorIs(t, a.Send([]byte("x")), ErrClosed)
	require.NoError(t, a.Close())
}

func TestEndpoint(t *testing.T) {
	t.Setenv(EnvSocket, "")
	_, err := Endpoint(context.Background())
	assert.ErrorIs(t, err, ErrHostMissing)

	t.Setenv(EnvSocket, filepath.Join(t.TempDir(), "missing.sock"))
	_, err = Endpoint(context.Background())
	assert.ErrorIs(t, err, ErrHostMissing)

	dir, err := os.MkdirTemp("", "wst")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	t.Setenv(EnvSocket, path)
	s, err := Endpoint(context.Background())
	require.NoError(t, err)
	defer s.Close()

	conn := <-accepted
	defer conn.Close()
	require.NoError(t, s.Send([]byte("ping")))
	frame, err := ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(frame))

	_, err = Dial(context.Background(), filepath.Join(dir, "nope.sock"))
	assert.True(t, errors.Is(err, ErrHostMissing))
}
