package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentgateway/internal/audit"
	"github.com/ashureev/agentgateway/internal/clientop"
	"github.com/ashureev/agentgateway/internal/runtime"
)

func newTestEntry(t *testing.T) (*Entry, *runtime.ReferenceConversation) {
	t.Helper()
	conv, err := runtime.NewReferenceConversation()
	if err != nil {
		t.Fatalf("NewReferenceConversation: %v", err)
	}
	initial, err := runtime.BuildInitialEvent(runtime.SessionConfigured{ConversationID: "c1", Model: "test"})
	if err != nil {
		t.Fatalf("BuildInitialEvent: %v", err)
	}

	e := New("sess-1", conv, initial, nil, nil)
	t.Cleanup(e.Close)
	return e, conv
}

// The hub does not replay the construction-time publish to later
// subscribers; a new subscriber gets the retained envelope from
// InitialEventJSON, which the WebSocket handler sends before any live event.
func TestInitialEventRetainedForNewSubscribers(t *testing.T) {
	e, _ := newTestEntry(t)

	sub := e.Subscribe()
	defer sub.Unsubscribe()

	var ev runtime.Event
	if err := json.Unmarshal([]byte(e.InitialEventJSON()), &ev); err != nil {
		t.Fatalf("unmarshal initial event: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(ev.Msg, &msg); err != nil {
		t.Fatalf("unmarshal initial msg: %v", err)
	}
	if msg.Type != "session_configured" {
		t.Fatalf("got initial event type %q, want session_configured", msg.Type)
	}

	select {
	case got := <-sub.C:
		t.Fatalf("expected no replayed event on a new subscription, got %q", got)
	default:
	}
}

func TestEventPumpForwardsLiveEvents(t *testing.T) {
	e, conv := newTestEntry(t)
	sub := e.Subscribe()
	defer sub.Unsubscribe()

	// The hub does not replay the initial event, so the first message on
	// the subscription is the live event emitted below.
	if err := conv.Emit(context.Background(), runtime.Event{ID: "2", Msg: json.RawMessage(`{"type":"agent_message"}`)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case msg := <-sub.C:
		if msg == "" {
			t.Fatal("expected live event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestOpConsumerSubmitsInOrder(t *testing.T) {
	e, conv := newTestEntry(t)

	e.Push(clientop.Op{Kind: clientop.KindUserMessage, Text: "one"})
	e.Push(clientop.Op{Kind: clientop.KindUserMessage, Text: "two"})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case op := <-conv.Ops():
			got = append(got, op.InputItems[0].Text)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for submitted op %d", i)
		}
	}
	if got[0] != "one" || got[1] != "two" {
		t.Fatalf("ops out of order: %v", got)
	}
}

func TestEventPumpAuditsOutboundEvents(t *testing.T) {
	dir := t.TempDir()
	auditLogger, err := audit.New(audit.Config{Enabled: true, Dir: dir, QueueSize: 8}, nil)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}

	conv, err := runtime.NewReferenceConversation()
	if err != nil {
		t.Fatalf("NewReferenceConversation: %v", err)
	}
	e := New("sess-audit", conv, nil, auditLogger, nil)

	sub := e.Subscribe()
	defer sub.Unsubscribe()

	if err := conv.Emit(context.Background(), runtime.Event{ID: "1", Msg: json.RawMessage(`{"type":"agent_message"}`)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}

	e.Close()
	if err := auditLogger.Close(); err != nil {
		t.Fatalf("audit Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "sess-audit.ndjson"))
	if err != nil {
		t.Fatalf("expected ndjson file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one audited line")
	}
	var ev audit.Event
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if ev.Direction != audit.DirectionOutbound {
		t.Fatalf("got direction %q, want outbound", ev.Direction)
	}
	if ev.EventType != "agent_message" {
		t.Fatalf("got event type %q, want agent_message", ev.EventType)
	}
}

func TestCloseStopsBackgroundTasks(t *testing.T) {
	conv, err := runtime.NewReferenceConversation()
	if err != nil {
		t.Fatalf("NewReferenceConversation: %v", err)
	}
	e := New("sess-close", conv, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return within bounded time")
	}
}
