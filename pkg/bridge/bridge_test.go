package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFrame struct {
	msgType int
	data    []byte
}

// fakeWS scripts inbound frames and records everything written back.
type fakeWS struct {
	mu       sync.Mutex
	inbound  chan wsFrame
	frames   []wsFrame
	controls []wsFrame
	closed   bool
}

func newFakeWS() *fakeWS {
	return &fakeWS{inbound: make(chan wsFrame, 8)}
}

func (c *fakeWS) ReadMessage() (int, []byte, error) {
	f, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return f.msgType, f.data, nil
}

func (c *fakeWS) WriteMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, wsFrame{msgType: msgType, data: cp})
	return nil
}

func (c *fakeWS) WriteControl(msgType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, wsFrame{msgType: msgType, data: data})
	return nil
}

func (c *fakeWS) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeWS) written() []wsFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wsFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeShell scripts shell output and records stdin writes.
type fakeShell struct {
	mu     sync.Mutex
	output chan []byte
	stdin  []byte
	closed bool
}

func newFakeShell() *fakeShell {
	return &fakeShell{output: make(chan []byte, 8)}
}

func (s *fakeShell) Read(p []byte) (int, error) {
	chunk, ok := <-s.output
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("shell closed")
	}
	s.stdin = append(s.stdin, p...)
	return len(p), nil
}

func (s *fakeShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
	}
	return nil
}

func (s *fakeShell) received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.stdin)
}

func TestPumpUpForwardsKeystrokes(t *testing.T) {
	ws := newFakeWS()
	shell := newFakeShell()
	b := New(ws, shell, nil, "s1")

	ws.inbound <- wsFrame{websocket.TextMessage, []byte("ls -la\r")}
	ws.inbound <- wsFrame{websocket.BinaryMessage, []byte{0x03}}
	close(ws.inbound)

	b.pumpUp(context.Background())

	assert.Equal(t, "ls -la\r\x03", shell.received())
}

func TestPumpUpAppliesResizeFrames(t *testing.T) {
	ws := newFakeWS()
	shell := newFakeShell()

	var gotCols, gotRows uint
	resize := func(_ context.Context, cols, rows uint) error {
		gotCols, gotRows = cols, rows
		return nil
	}
	b := New(ws, shell, resize, "s1")

	ws.inbound <- wsFrame{websocket.TextMessage, []byte(`{"type":"resize","cols":120,"rows":40}`)}
	close(ws.inbound)

	b.pumpUp(context.Background())

	assert.Equal(t, uint(120), gotCols)
	assert.Equal(t, uint(40), gotRows)
	// The control frame never reaches the shell.
	assert.Empty(t, shell.received())
}

func TestPumpUpForwardsNonResizeJSON(t *testing.T) {
	ws := newFakeWS()
	shell := newFakeShell()
	b := New(ws, shell, nil, "s1")

	ws.inbound <- wsFrame{websocket.TextMessage, []byte(`{"not":"resize"}`)}
	close(ws.inbound)

	b.pumpUp(context.Background())

	assert.Equal(t, `{"not":"resize"}`, shell.received())
}

func TestPumpDownShipsBinaryFrames(t *testing.T) {
	ws := newFakeWS()
	shell := newFakeShell()
	b := New(ws, shell, nil, "s1")

	shell.output <- []byte("hello ")
	shell.output <- []byte("world")
	close(shell.output)

	b.pumpDown()

	frames := ws.written()
	require.Len(t, frames, 2)
	assert.Equal(t, websocket.BinaryMessage, frames[0].msgType)
	assert.Equal(t, "hello ", string(frames[0].data))
	assert.Equal(t, "world", string(frames[1].data))

	// Shell EOF announces a normal close to the client.
	require.Len(t, ws.controls, 1)
	assert.Equal(t, websocket.CloseMessage, ws.controls[0].msgType)
}

func TestRunTearsDownBothSidesOnClientClose(t *testing.T) {
	ws := newFakeWS()
	shell := newFakeShell()
	b := New(ws, shell, nil, "s1")

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	ws.inbound <- wsFrame{websocket.TextMessage, []byte("exit\r")}
	close(ws.inbound)
	close(shell.output)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}

	assert.Equal(t, "exit\r", shell.received())
	assert.True(t, shell.closed)
	assert.True(t, ws.closed)
}
