package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ashureev/agentgateway/internal/clientop"
)

func TestTranslateUserMessage(t *testing.T) {
	op, err := Translate(clientop.Op{Kind: clientop.KindUserMessage, Text: "hi", Images: []string{"http://x/1.png"}})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if op.Kind != OpUserInput || len(op.InputItems) != 2 {
		t.Fatalf("unexpected op: %+v", op)
	}
	if op.InputItems[0].Type != "text" || op.InputItems[1].Type != "image" {
		t.Fatalf("unexpected item ordering: %+v", op.InputItems)
	}
}

func TestTranslateOverrideTurnContextSandbox(t *testing.T) {
	mode := clientop.SandboxDangerFullAccess
	op, err := Translate(clientop.Op{Kind: clientop.KindOverrideTurnContext, SandboxMode: &mode})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if op.TurnContext == nil || op.TurnContext.SandboxPolicy == nil {
		t.Fatalf("expected sandbox policy, got %+v", op.TurnContext)
	}
	if !op.TurnContext.SandboxPolicy.DangerFullAccess {
		t.Fatalf("expected DangerFullAccess=true")
	}
}

func TestTranslateOverrideTurnContextNoSandbox(t *testing.T) {
	op, err := Translate(clientop.Op{Kind: clientop.KindOverrideTurnContext})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if op.TurnContext.SandboxPolicy != nil {
		t.Fatalf("expected nil sandbox policy when absent")
	}
}

func TestBuildInitialEventProducesSessionConfiguredEnvelope(t *testing.T) {
	b, err := BuildInitialEvent(SessionConfigured{ConversationID: "abc", Model: "gpt"})
	if err != nil {
		t.Fatalf("BuildInitialEvent: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if ev.ID != "" {
		t.Fatalf("expected empty id, got %q", ev.ID)
	}

	var msg struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(ev.Msg, &msg); err != nil {
		t.Fatalf("unmarshal msg: %v", err)
	}
	if msg.Type != "session_configured" || msg.ConversationID != "abc" {
		t.Fatalf("unexpected msg: %+v", msg)
	}
}

func TestReferenceConversationSubmitObservable(t *testing.T) {
	conv, err := NewReferenceConversation()
	if err != nil {
		t.Fatalf("NewReferenceConversation: %v", err)
	}
	ctx := context.Background()
	if err := conv.Submit(ctx, Op{Kind: OpInterrupt}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case op := <-conv.Ops():
		if op.Kind != OpInterrupt {
			t.Fatalf("got %+v", op)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for submitted op")
	}
}

func TestReferenceConversationCloseEndsStream(t *testing.T) {
	conv, err := NewReferenceConversation()
	if err != nil {
		t.Fatalf("NewReferenceConversation: %v", err)
	}
	ctx := context.Background()
	if err := conv.Emit(ctx, Event{ID: "1", Msg: []byte(`{}`)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, err := conv.NextEvent(ctx); err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := conv.NextEvent(ctx); err != ErrStreamEnded {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}
}
