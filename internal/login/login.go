// Package login implements the single-flight, cancellable login
// coordinator (SPEC_FULL §4.G): process-wide state shared across requests,
// analogous in shape to the teacher's per-user sync.Map TryLock pattern in
// api/container.go, but scaled down to a single slot since there is never
// more than one login in flight for the whole process.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// AuthMode is the credential kind discovered on disk once a login has
// completed.
type AuthMode string

const (
	AuthModeAPIKey  AuthMode = "api_key"
	AuthModeChatGPT AuthMode = "chat_gpt"
)

// ErrNotAuthenticated indicates no credential file exists yet and no login
// is in flight.
var ErrNotAuthenticated = errors.New("login: not authenticated")

// Server is what a concrete login implementation hands back to Start: a
// running auth callback server plus the URL the user should visit.
type Server struct {
	AuthURL string
	Port    int
	Cancel  context.CancelFunc
}

// Starter launches a new login server. It is a collaborator, not something
// this package implements — the concrete OAuth-callback HTTP server lives
// outside the gateway's scope the same way the Conversation runtime does.
type Starter func(ctx context.Context) (Server, error)

// CredentialReader inspects the persisted credential file to answer
// Status when no login is pending. Abstracted so tests don't need a real
// filesystem layout.
type CredentialReader interface {
	// Exists reports whether a credential file is present at all.
	Exists() bool
	// Read parses the credential file and reports which auth mode it
	// represents. Only called when Exists is true.
	Read() (AuthMode, error)
}

// FileCredentialReader reads a JSON auth file the way codex_login's
// try_read_auth_json does: a non-empty "openai_api_key" field selects
// AuthModeAPIKey, otherwise AuthModeChatGPT.
type FileCredentialReader struct {
	Path string
}

func (f FileCredentialReader) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

func (f FileCredentialReader) Read() (AuthMode, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	var fields struct {
		OpenAIAPIKey string `json:"openai_api_key"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", err
	}
	if fields.OpenAIAPIKey != "" {
		return AuthModeAPIKey, nil
	}
	return AuthModeChatGPT, nil
}

// Coordinator owns the single pending-login slot.
type Coordinator struct {
	mu      sync.Mutex
	pending *pendingLogin

	start Starter
	creds CredentialReader
}

type pendingLogin struct {
	server Server
	cancel context.CancelFunc
}

// New builds a Coordinator. start is invoked to launch a fresh login
// server each time Start is called; creds is consulted by Status once no
// login is pending.
func New(start Starter, creds CredentialReader) *Coordinator {
	return &Coordinator{start: start, creds: creds}
}

// StartResult is returned to the HTTP caller of POST /api/login/start.
type StartResult struct {
	AuthURL string
	Port    int
}

// Start cancels any existing pending login, launches a new one, and
// returns its auth URL and port. Single-flight: only one login is ever
// pending at a time (§8 invariant 4).
func (c *Coordinator) Start(ctx context.Context) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.pending.cancel()
		if c.pending.server.Cancel != nil {
			c.pending.server.Cancel()
		}
		c.pending = nil
	}

	loginCtx, cancel := context.WithCancel(ctx)
	server, err := c.start(loginCtx)
	if err != nil {
		cancel()
		return StartResult{}, err
	}

	c.pending = &pendingLogin{server: server, cancel: cancel}
	return StartResult{AuthURL: server.AuthURL, Port: server.Port}, nil
}

// Status reports either the in-flight login's details, or (when none is
// pending) the auth mode found on disk.
type Status struct {
	Pending *StartResult
	Mode    AuthMode
}

func (c *Coordinator) Status() (Status, error) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	if pending != nil {
		return Status{Pending: &StartResult{AuthURL: pending.server.AuthURL, Port: pending.server.Port}}, nil
	}

	if !c.creds.Exists() {
		return Status{}, ErrNotAuthenticated
	}
	mode, err := c.creds.Read()
	if err != nil {
		return Status{}, err
	}
	return Status{Mode: mode}, nil
}

// Cancel stops any pending login. A no-op (success) when nothing is
// pending, matching the idempotence law in §8.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	c.pending.cancel()
	if c.pending.server.Cancel != nil {
		c.pending.server.Cancel()
	}
	c.pending = nil
}

