package wsapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agentgateway/internal/audit"
	"github.com/ashureev/agentgateway/internal/login"
	"github.com/ashureev/agentgateway/internal/rollout"
	"github.com/ashureev/agentgateway/internal/runtime"
	"github.com/ashureev/agentgateway/internal/session"
)

// API bundles the plain HTTP (non-WebSocket) handlers of §6's external
// interface: session creation/resume, rollout listing, and the login
// endpoints. Kept separate from EventsHandler/PTYHandler so each handler
// type only depends on the collaborators it actually needs.
type API struct {
	registry     *session.Registry
	rollouts     *rollout.Store
	rolloutListN int
	login        *login.Coordinator
	audit        *audit.Logger
	log          *slog.Logger
}

// NewAPI constructs the HTTP handler bundle. rolloutListN bounds how many
// rollout descriptors GET /api/rollout/conversations returns. auditLogger is
// handed to every Entry this API mints so the Event Pump can audit outbound
// events alongside EventsHandler's existing inbound logging.
func NewAPI(registry *session.Registry, rollouts *rollout.Store, rolloutListN int, loginCoordinator *login.Coordinator, auditLogger *audit.Logger, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if rolloutListN <= 0 {
		rolloutListN = 20
	}
	return &API{registry: registry, rollouts: rollouts, rolloutListN: rolloutListN, login: loginCoordinator, audit: auditLogger, log: logger}
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}

// Healthz serves GET /healthz.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createSessionRequest struct {
	Prompt         string `json:"prompt,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	Model          string `json:"model,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
	SandboxMode    string `json:"sandbox_mode,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession serves POST /api/sessions. The "prompt" field is accepted
// and otherwise ignored (Open Question resolution, SPEC_FULL §9): it is
// never submitted as a turn.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		// Every field is optional, so an empty body (io.EOF) is valid; any
		// other decode failure is a malformed request.
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	id := session.NewID()
	cfg := runtime.SessionConfigured{ConversationID: id, Model: req.Model, Cwd: req.Cwd}

	initial, err := runtime.BuildInitialEvent(cfg)
	if err != nil {
		a.log.Error("failed to build initial event", "error", err, "session_id", id)
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	conv, err := runtime.NewReferenceConversation()
	if err != nil {
		a.log.Error("failed to start conversation", "error", err, "session_id", id)
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	entry := session.New(id, conv, initial, a.audit, a.log)
	a.registry.Insert(id, entry)

	if a.rollouts != nil {
		if err := a.rollouts.Record(r.Context(), rollout.Descriptor{ID: id, Path: rolloutPathFor(id), CreatedAt: time.Now()}); err != nil {
			a.log.Warn("failed to record rollout descriptor", "error", err, "session_id", id)
		}
	}

	writeJSONResponse(w, http.StatusOK, sessionResponse{SessionID: id})
}

type resumeSessionRequest struct {
	Path string `json:"path"`
}

// ResumeSession serves POST /api/sessions/resume. A real resume would
// replay the referenced rollout file's turns into the new conversation;
// this gateway's in-process ReferenceConversation has nothing to replay
// into, so resumption is limited to minting a fresh session bound to the
// given path for indexing purposes.
func (a *API) ResumeSession(w http.ResponseWriter, r *http.Request) {
	var req resumeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}

	id := session.NewID()
	initial, err := runtime.BuildInitialEvent(runtime.SessionConfigured{ConversationID: id})
	if err != nil {
		a.log.Error("failed to build initial event", "error", err, "session_id", id, "path", req.Path)
		writeJSONError(w, http.StatusInternalServerError, "failed to resume session")
		return
	}
	conv, err := runtime.NewReferenceConversation()
	if err != nil {
		a.log.Error("failed to resume conversation", "error", err, "session_id", id, "path", req.Path)
		writeJSONError(w, http.StatusInternalServerError, "failed to resume session")
		return
	}

	entry := session.New(id, conv, initial, a.audit, a.log)
	a.registry.Insert(id, entry)

	if a.rollouts != nil {
		if err := a.rollouts.Record(r.Context(), rollout.Descriptor{ID: id, Path: req.Path, CreatedAt: time.Now()}); err != nil {
			a.log.Warn("failed to record rollout descriptor", "error", err, "session_id", id)
		}
	}

	writeJSONResponse(w, http.StatusOK, sessionResponse{SessionID: id})
}

type rolloutItem struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type rolloutListResponse struct {
	Items []rolloutItem `json:"items"`
}

// ListRollouts serves GET /api/rollout/conversations.
func (a *API) ListRollouts(w http.ResponseWriter, r *http.Request) {
	descriptors, err := a.rollouts.List(r.Context(), a.rolloutListN)
	if err != nil {
		a.log.Error("failed to list rollouts", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list rollouts")
		return
	}

	items := make([]rolloutItem, 0, len(descriptors))
	for _, d := range descriptors {
		items = append(items, rolloutItem{ID: d.ID, Path: d.Path})
	}
	writeJSONResponse(w, http.StatusOK, rolloutListResponse{Items: items})
}

// LoginStart serves POST /api/login/start.
func (a *API) LoginStart(w http.ResponseWriter, r *http.Request) {
	result, err := a.login.Start(r.Context())
	if err != nil {
		a.log.Error("failed to start login", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to start login")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"auth_url": result.AuthURL, "port": result.Port})
}

// LoginStatus serves GET /api/login/status.
func (a *API) LoginStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.login.Status()
	if err != nil {
		if errors.Is(err, login.ErrNotAuthenticated) {
			writeJSONResponse(w, http.StatusOK, map[string]string{"status": "not_authenticated"})
			return
		}
		a.log.Error("failed to read login status", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read login status")
		return
	}

	if status.Pending != nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"pending": map[string]any{"auth_url": status.Pending.AuthURL, "port": status.Pending.Port},
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"auth_mode": string(status.Mode)})
}

// LoginCancel serves POST /api/login/cancel.
func (a *API) LoginCancel(w http.ResponseWriter, r *http.Request) {
	a.login.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func rolloutPathFor(id string) string {
	return "sessions/" + id + ".jsonl"
}
