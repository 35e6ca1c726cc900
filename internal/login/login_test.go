package login

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeCreds struct {
	exists bool
	mode   AuthMode
	err    error
}

func (f fakeCreds) Exists() bool          { return f.exists }
func (f fakeCreds) Read() (AuthMode, error) { return f.mode, f.err }

func fakeStart(calls *int) Starter {
	return func(ctx context.Context) (Server, error) {
		*calls++
		return Server{AuthURL: "http://example.test/auth", Port: 4000 + *calls}, nil
	}
}

func TestStartReturnsAuthURLAndPort(t *testing.T) {
	var calls int
	c := New(fakeStart(&calls), fakeCreds{})

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.AuthURL == "" || res.Port == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStartTwiceCancelsPriorAndIsSingleFlight(t *testing.T) {
	var calls int
	var canceledFirst bool

	start := func(ctx context.Context) (Server, error) {
		calls++
		n := calls
		return Server{AuthURL: "url", Port: n, Cancel: func() {
			if n == 1 {
				canceledFirst = true
			}
		}}, nil
	}
	c := New(start, fakeCreds{})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected 2 start calls, got %d", calls)
	}
	if !canceledFirst {
		t.Fatal("expected first login's Cancel to be invoked before the second Start returned")
	}
}

func TestStatusPendingTakesPrecedenceOverCreds(t *testing.T) {
	var calls int
	c := New(fakeStart(&calls), fakeCreds{exists: true, mode: AuthModeChatGPT})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Pending == nil {
		t.Fatal("expected pending status while login in flight")
	}
}

func TestStatusNotAuthenticatedWhenCredsAbsent(t *testing.T) {
	c := New(nil, fakeCreds{exists: false})
	_, err := c.Status()
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestStatusReportsAuthModeWhenCredsPresent(t *testing.T) {
	c := New(nil, fakeCreds{exists: true, mode: AuthModeAPIKey})
	status, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != AuthModeAPIKey {
		t.Fatalf("got %q, want api_key", status.Mode)
	}
}

func TestCancelIsNoOpWhenNothingPending(t *testing.T) {
	c := New(nil, fakeCreds{})
	c.Cancel() // must not panic
}

func TestCancelClearsPendingState(t *testing.T) {
	var calls int
	c := New(fakeStart(&calls), fakeCreds{exists: false})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Cancel()

	_, err := c.Status()
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not-authenticated after cancel, got %v", err)
	}
}

func TestFileCredentialReaderDetectsAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte(`{"openai_api_key":"sk-test"}`), 0o644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	r := FileCredentialReader{Path: path}
	if !r.Exists() {
		t.Fatal("expected file to exist")
	}
	mode, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if mode != AuthModeAPIKey {
		t.Fatalf("got %q, want api_key", mode)
	}
}

func TestFileCredentialReaderDetectsChatGPT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte(`{"tokens":{"access_token":"x"}}`), 0o644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	r := FileCredentialReader{Path: path}
	mode, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if mode != AuthModeChatGPT {
		t.Fatalf("got %q, want chat_gpt", mode)
	}
}
