// Package ptybridge proxies a spawned child process's terminal through a
// WebSocket connection (SPEC_FULL §4.H). It is independent of the session
// broker: a PTY connection carries no session id and touches no Registry,
// mirroring the original source's ws_pty handler, whose app-state
// parameter is unused.
package ptybridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultRows and DefaultCols match the original source's fixed initial
// terminal geometry.
const (
	DefaultRows = 30
	DefaultCols = 100
)

// ErrUnsupportedPlatform is returned by LocalBackend.Open on platforms with
// no PTY support. Declared here (rather than in local_other.go) so Serve can
// detect it regardless of which platform's LocalBackend the binary built.
var ErrUnsupportedPlatform = errors.New("ptybridge: pty not supported on this platform")

// Backend spawns a child process attached to a terminal device and
// returns a read/write/resize/kill handle. internal/ptybridge provides the
// local (creack/pty) backend; internal/sandbox provides the Docker-exec
// backend. Both satisfy this interface so the WS-facing Serve loop below
// is backend-agnostic.
type Backend interface {
	Open(ctx context.Context, rows, cols uint16) (Session, error)
}

// Session is one spawned child process bound to a terminal device.
type Session interface {
	io.Reader
	io.Writer
	Resize(rows, cols uint16) error
	Kill() error
}

// Conn is the minimal WebSocket surface Serve needs; satisfied by
// *coder/websocket.Conn via the adapter in internal/wsapi, and by a fake in
// tests.
type Conn interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, data string) error
}

// errorFrame is the JSON envelope the original source sends on PTY setup
// failure, before closing the socket.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(ctx context.Context, c Conn, message string) {
	b, _ := json.Marshal(errorFrame{Type: "error", Message: message})
	_ = c.WriteText(ctx, string(b))
}

// readChunkSize matches the original source's 8 KiB blocking read buffer.
const readChunkSize = 8192

// Serve opens a new backend session and bridges it to the WebSocket
// connection until either side closes. It blocks until the bridge tears
// down completely.
func Serve(ctx context.Context, backend Backend, conn Conn, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	sess, err := backend.Open(ctx, DefaultRows, DefaultCols)
	if err != nil {
		log.Warn("pty open failed", "error", err)
		if errors.Is(err, ErrUnsupportedPlatform) {
			writeError(ctx, conn, "pty not supported on this platform")
			return
		}
		writeError(ctx, conn, "pty open failed: "+err.Error())
		return
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	toClient := make(chan string, 64)

	// Reader goroutine: blocking reads off the PTY master, decoded lossily
	// to text (the terminal may emit invalid UTF-8 mid-escape-sequence),
	// forwarded over an intermediate channel so the WS write lives on its
	// own goroutine per the original's read_task/ws_send_task split.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer close(toClient)
		buf := make([]byte, readChunkSize)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				select {
				case toClient <- strings.ToValidUTF8(string(buf[:n]), "�"):
				case <-bridgeCtx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// The sender cancels bridgeCtx when it exits (PTY output exhausted or a
	// WS write error), which ends the WS read loop below.
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		defer cancel()
		for {
			select {
			case s, ok := <-toClient:
				if !ok {
					return
				}
				if err := conn.WriteText(bridgeCtx, s); err != nil {
					return
				}
			case <-bridgeCtx.Done():
				return
			}
		}
	}()

	// Main goroutine: WS -> PTY. Write errors are silently ignored,
	// matching the original source's "let _ =" — a write failure here just
	// means the next read will observe the broken pipe.
	for {
		text, err := conn.ReadText(bridgeCtx)
		if err != nil {
			break
		}
		_, _ = sess.Write([]byte(text))
	}

	// Kill the child first, then wait (bounded) for both goroutines to
	// observe the resulting EOF/pipe-error. The original source awaits
	// both tasks before killing the child, which can hang if the child
	// never produces EOF; killing first avoids that latent shutdown hang
	// (see DESIGN.md's Open Question resolution). When the WS side ends
	// first, output still queued for the client is discarded.
	_ = sess.Kill()
	cancel()

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		log.Warn("pty read task did not exit within shutdown window")
	}
	select {
	case <-sendDone:
	case <-time.After(2 * time.Second):
		log.Warn("pty send task did not exit within shutdown window")
	}
}

