// Package wsapi is the HTTP/WebSocket surface of the gateway: session
// creation/resume, rollout listing, and the two WebSocket upgrades (events
// and PTY). The upgrade-then-split-then-spawn-forwarder pattern is
// grounded on the teacher's terminal.WebSocketHandler.ServeHTTP, generalized
// per SPEC_FULL §4.F from "one connection per user+session" to "N
// subscribers per session id", and from the teacher's raw io.Copy loop to
// the ClientOp-parsing loop the original source's handle_socket performs.
package wsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/agentgateway/internal/audit"
	"github.com/ashureev/agentgateway/internal/clientop"
	"github.com/ashureev/agentgateway/internal/session"
)

// EventsHandler serves GET /api/sessions/:id/events.
type EventsHandler struct {
	registry      *session.Registry
	audit         *audit.Logger
	allowedOrigin string
	isDev         bool
	log           *slog.Logger
}

// NewEventsHandler constructs an EventsHandler. allowedOrigin/isDev follow
// the teacher's checkOrigin shape: isDev bypasses the check entirely,
// "*" allows any origin, otherwise an exact match is required.
func NewEventsHandler(registry *session.Registry, auditLogger *audit.Logger, allowedOrigin string, isDev bool, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{registry: registry, audit: auditLogger, allowedOrigin: allowedOrigin, isDev: isDev, log: logger}
}

func checkOrigin(r *http.Request, allowedOrigin string, isDev bool, log *slog.Logger) bool {
	if isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || allowedOrigin == "*" {
		return true
	}
	if origin == allowedOrigin {
		return true
	}
	log.Warn("websocket origin rejected", "origin", origin, "allowed", allowedOrigin)
	return false
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeErrorFrame(ctx context.Context, ws *websocket.Conn, message string) {
	_ = writeJSON(ctx, ws, errorFrame{Type: "error", Message: message})
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

// ServeHTTP implements §4.F step by step: parse id, look up the entry
// (releasing the registry lock before any socket I/O), subscribe to the
// hub, send the retained initial event first, then spawn the forwarder and
// run the op-reading loop.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !checkOrigin(r, h.allowedOrigin, h.isDev, h.log) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Error("failed to accept websocket", "error", err, "session_id", id)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session events closed")
	}()

	if _, err := uuid.Parse(id); err != nil {
		writeErrorFrame(r.Context(), ws, "invalid session id")
		return
	}

	snap := h.registry.Get(id)
	if !snap.Found {
		writeErrorFrame(r.Context(), ws, "session not found")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := snap.Entry.Subscribe()
	defer sub.Unsubscribe()

	if snap.InitialEventJSON != "" {
		if err := writeRaw(ctx, ws, snap.InitialEventJSON); err != nil {
			return
		}
	}

	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeRaw(ctx, ws, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	h.readOps(ctx, ws, snap.Entry, id)
	cancel()
	<-fwdDone
}

func writeRaw(ctx context.Context, ws *websocket.Conn, msg string) error {
	return ws.Write(ctx, websocket.MessageText, []byte(msg))
}

// readOps is the main task: parse each inbound text frame as a ClientOp and
// push it to the entry's op queue. Malformed frames are logged and
// dropped; the connection stays open, matching §4.A/§4.F.
func (h *EventsHandler) readOps(ctx context.Context, ws *websocket.Conn, entry *session.Entry, sessionID string) {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		op, err := clientop.Decode(data)
		if err != nil {
			h.log.Debug("dropping malformed client op", "session_id", sessionID, "error", err)
			continue
		}

		if h.audit != nil {
			h.audit.Log(audit.Event{
				SessionID:  sessionID,
				Direction:  audit.DirectionInbound,
				EventType:  string(op.Kind),
				ContentRaw: string(data),
			})
		}

		entry.Push(op)
	}
}
