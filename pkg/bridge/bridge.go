// Package bridge pumps bytes between one terminal WebSocket and one
// interactive shell exec. The shell side is a raw tty byte stream; the
// socket side distinguishes control frames (resize) from keystrokes.
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
)

// downChunk is the read size for shell output. Output larger than one chunk
// arrives as consecutive binary frames; the terminal emulator reassembles.
const downChunk = 4096

// Shell is the byte stream of one live shell, as produced by the runtime.
type Shell interface {
	io.Reader
	io.Writer
	Close() error
}

// Conn is the slice of *websocket.Conn the bridge uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ResizeFunc changes the tty geometry of the attached shell.
type ResizeFunc func(ctx context.Context, cols, rows uint) error

// controlFrame is the only structured message the client sends; anything
// else on the socket is keyboard input.
type controlFrame struct {
	Type string `json:"type"`
	Cols uint   `json:"cols"`
	Rows uint   `json:"rows"`
}

// Bridge couples one socket to one shell for the duration of Run.
type Bridge struct {
	conn   Conn
	shell  Shell
	resize ResizeFunc
	sid    string
}

// New builds a bridge. resize may be nil when the shell has no tty.
func New(conn Conn, shell Shell, resize ResizeFunc, sessionID string) *Bridge {
	return &Bridge{conn: conn, shell: shell, resize: resize, sid: sessionID}
}

// Run pumps both directions until either side closes or ctx is cancelled.
// Whichever pump stops first tears down both endpoints so the other pump
// unblocks. A shell-side failure is reported to the client as an internal
// error close; a client disconnect closes quietly.
func (b *Bridge) Run(ctx context.Context) {
	done := make(chan struct{})
	var teardown sync.Once
	stop := func() {
		teardown.Do(func() {
			_ = b.shell.Close()
			_ = b.conn.Close()
		})
	}

	go func() {
		defer close(done)
		b.pumpDown()
		stop()
	}()

	go func() {
		<-ctx.Done()
		stop()
	}()

	b.pumpUp(ctx)
	stop()
	<-done

	log.WithSessionID(b.sid).Debug().Msg("terminal bridge closed")
}

// pumpUp reads socket frames and feeds the shell's stdin. Text frames that
// parse as a resize control are applied out of band; everything else goes to
// the shell verbatim.
func (b *Bridge) pumpUp(ctx context.Context) {
	for {
		msgType, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.TextMessage && len(data) > 0 && data[0] == '{' {
			var frame controlFrame
			if json.Unmarshal(data, &frame) == nil && frame.Type == "resize" {
				if b.resize != nil && frame.Cols > 0 && frame.Rows > 0 {
					if err := b.resize(ctx, frame.Cols, frame.Rows); err != nil {
						log.WithSessionID(b.sid).Warn().Err(err).Msg("resize failed")
					}
				}
				continue
			}
			// Not a control frame after all; treat as input.
		}

		if _, err := b.shell.Write(data); err != nil {
			b.closeWith(websocket.CloseInternalServerErr, "shell write failed")
			return
		}
		metrics.TerminalBytes.WithLabelValues("up").Add(float64(len(data)))
	}
}

// pumpDown reads shell output in chunks and ships each as one binary frame.
func (b *Bridge) pumpDown() {
	buf := make([]byte, downChunk)
	for {
		n, err := b.shell.Read(buf)
		if n > 0 {
			if werr := b.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
			metrics.TerminalBytes.WithLabelValues("down").Add(float64(n))
		}
		if err != nil {
			// Shell exit reaches us as EOF; anything else is a transport
			// fault. Either way the session is over for this socket.
			if err != io.EOF {
				b.closeWith(websocket.CloseInternalServerErr, "shell read failed")
			} else {
				b.closeWith(websocket.CloseNormalClosure, "shell exited")
			}
			return
		}
	}
}

func (b *Bridge) closeWith(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = b.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}
