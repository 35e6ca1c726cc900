package wsapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/docker/docker/client"

	"github.com/ashureev/agentgateway/internal/config"
	"github.com/ashureev/agentgateway/internal/ptybridge"
	"github.com/ashureev/agentgateway/internal/sandbox"
)

// wsConn adapts a *websocket.Conn to ptybridge.Conn. ReadText accepts both
// binary and text frames and returns their bytes unchanged as a string (no
// UTF-8 validation or re-encoding), the same way the teacher's terminal
// websocket handler treated PTY bytes as text.
type wsConn struct {
	ws *websocket.Conn
}

func (c wsConn) ReadText(ctx context.Context) (string, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c wsConn) WriteText(ctx context.Context, data string) error {
	return c.ws.Write(ctx, websocket.MessageText, []byte(data))
}

// PTYHandler serves GET /api/pty, bridging a single WebSocket connection to
// either a local PTY or a Docker exec session per §4.H.
type PTYHandler struct {
	backend ptybridge.Backend
	log     *slog.Logger
}

// NewPTYHandler selects the PTY backend from configuration: a Docker exec
// session when a sandbox container id is configured, otherwise a local PTY
// spawning a shell.
func NewPTYHandler(cfg *config.Config, dockerClient *client.Client, logger *slog.Logger) *PTYHandler {
	if logger == nil {
		logger = slog.Default()
	}
	var backend ptybridge.Backend
	if cfg.UsesSandboxBackend() {
		backend = &sandbox.DockerExecBackend{
			Client:      dockerClient,
			ContainerID: cfg.Sandbox.ContainerID,
			Shell:       cfg.Sandbox.Shell,
		}
	} else {
		backend = &ptybridge.LocalBackend{Command: cfg.Sandbox.Shell}
	}
	return &PTYHandler{backend: backend, log: logger}
}

func (h *PTYHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Error("failed to accept pty websocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "pty session closed")
	}()

	ptybridge.Serve(r.Context(), h.backend, wsConn{ws: ws}, h.log)
}
