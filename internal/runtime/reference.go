package runtime

import (
	"context"
	"encoding/json"
	"sync"
)

// SessionConfigured is the one event every Conversation is required to be
// able to produce first: the descriptor a new subscriber needs to render
// the conversation's starting state.
type SessionConfigured struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Cwd            string `json:"cwd"`
}

// BuildInitialEvent serializes cfg into the single retained event envelope
// SPEC_FULL §4.B requires: {id: "", msg: {type: "session_configured", …}}.
// The session package publishes and retains exactly these bytes as a
// SessionEntry's initialEventJSON; Conversation implementations do not also
// emit this event over NextEvent, so it is published exactly once.
func BuildInitialEvent(cfg SessionConfigured) ([]byte, error) {
	msg, err := json.Marshal(struct {
		Type string `json:"type"`
		SessionConfigured
	}{Type: "session_configured", SessionConfigured: cfg})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{ID: "", Msg: msg})
}

// ReferenceConversation is an in-process Conversation usable both as the
// gateway's default runtime (absent a real LLM-plus-tools process wired in)
// and as a test double. It produces no events of its own, not even
// session_configured; callers push events with Emit and observe submitted
// ops with Ops(). This mirrors the shape of the
// teacher's agent.Processor (an interface with a Close and a blocking
// stream) without a network transport underneath it.
type ReferenceConversation struct {
	mu     sync.Mutex
	events chan Event
	ops    chan Op
	closed bool
}

// NewReferenceConversation builds an otherwise-empty conversation. The
// session_configured event is not enqueued here: SessionEntry construction
// (§4.B) owns publishing and retaining that event exactly once, via
// BuildInitialEvent, so it is not duplicated over NextEvent as well.
func NewReferenceConversation() (*ReferenceConversation, error) {
	c := &ReferenceConversation{
		events: make(chan Event, 256),
		ops:    make(chan Op, 256),
	}
	return c, nil
}

// Emit makes an additional event available to NextEvent callers. Blocks if
// the internal buffer (256 events) is full; callers driving a test or a
// reference agent loop are expected to keep pace with consumption.
func (c *ReferenceConversation) Emit(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextEvent implements Conversation.
func (c *ReferenceConversation) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, ErrStreamEnded
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Submit implements Conversation. Submitted ops are recorded for test
// observation via Ops(); the reference conversation does not act on them.
func (c *ReferenceConversation) Submit(ctx context.Context, op Op) error {
	select {
	case c.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Observation buffer full: drop rather than block the Op
		// Consumer, matching the spec's "per-op failure is logged and
		// discarded" policy.
		return nil
	}
}

// Ops returns the channel of ops submitted so far, for test assertions.
func (c *ReferenceConversation) Ops() <-chan Op {
	return c.ops
}

// Close implements Conversation. Safe to call more than once.
func (c *ReferenceConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}
