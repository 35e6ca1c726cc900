// Package session implements the per-conversation broker (SessionEntry)
// and the process-wide Registry that looks entries up by id. This is the
// component the rest of the gateway is built around: it owns the two
// background tasks that pump runtime events into a broadcast hub and drain
// client ops out of an unbounded queue into the runtime, matching
// SessionEntry in the original source (broadcaster, ops_tx, _event_task,
// _ops_task, initial_event_json).
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/agentgateway/internal/audit"
	"github.com/ashureev/agentgateway/internal/broadcast"
	"github.com/ashureev/agentgateway/internal/clientop"
	"github.com/ashureev/agentgateway/internal/runtime"
)

// opQueue is an unbounded, many-writers/one-reader queue of client ops,
// backed by a slice guarded by a mutex and a condition-style signal
// channel. Go has no built-in unbounded channel; this is the queue side of
// the same backpressure-avoidance goal the broadcast hub serves on the
// fan-out side, except here the producer (any WS handler) must never be
// refused — only the single Op Consumer reader ever blocks.
type opQueue struct {
	mu     sync.Mutex
	items  []clientop.Op
	notify chan struct{}
	closed bool
}

func newOpQueue() *opQueue {
	return &opQueue{notify: make(chan struct{}, 1)}
}

func (q *opQueue) push(op clientop.Op) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, op)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an op is available, ctx is canceled, or the queue is
// closed (ok=false).
func (q *opQueue) pop(ctx context.Context) (op clientop.Op, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			op = q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return op, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return clientop.Op{}, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return clientop.Op{}, false
		}
	}
}

func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Entry is the per-conversation broker: SPEC_FULL §4.B's SessionEntry.
type Entry struct {
	ID uuidString

	conv             runtime.Conversation
	hub              *broadcast.Hub
	ops              *opQueue
	initialEventJSON string
	audit            *audit.Logger

	cancel context.CancelFunc
	done   chan struct{}

	log *slog.Logger
}

// uuidString keeps the Entry type from importing google/uuid directly;
// Registry is the package that mints ids, Entry just carries whichever
// string it was given.
type uuidString = string

// New constructs an Entry, publishes the retained initial event, and spawns
// the Event Pump and Op Consumer. The caller supplies the already-created
// Conversation and its session_configured descriptor JSON (pre-serialized,
// since the descriptor's shape belongs to the runtime, not this package).
// auditLogger may be nil, in which case no audit trail is recorded for this
// entry (matching audit.Logger's own no-op-when-disabled behavior).
func New(id string, conv runtime.Conversation, initialEventJSON []byte, auditLogger *audit.Logger, logger *slog.Logger) *Entry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Entry{
		ID:               id,
		conv:             conv,
		hub:              broadcast.New(broadcast.DefaultCapacity),
		ops:              newOpQueue(),
		initialEventJSON: string(initialEventJSON),
		audit:            auditLogger,
		cancel:           cancel,
		done:             make(chan struct{}),
		log:              logger.With("session_id", id),
	}

	if len(initialEventJSON) > 0 {
		e.hub.Publish(string(initialEventJSON))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.runEventPump(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runOpConsumer(ctx)
	}()
	go func() {
		wg.Wait()
		close(e.done)
	}()

	return e
}

// runEventPump is the Event Pump (§4.D): drain the runtime's event stream
// and publish each serialized event to the hub. A publish with zero
// subscribers is not an error — the runtime must keep draining regardless.
func (e *Entry) runEventPump(ctx context.Context) {
	for {
		ev, err := e.conv.NextEvent(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.log.Debug("event pump stopping", "reason", err)
			}
			return
		}
		msg, err := json.Marshal(ev)
		if err != nil {
			e.log.Warn("failed to marshal event, dropping", "error", err)
			continue
		}
		if e.audit != nil {
			e.audit.Log(audit.Event{
				SessionID:  e.ID,
				Direction:  audit.DirectionOutbound,
				EventType:  eventType(ev.Msg),
				ContentRaw: string(msg),
			})
		}
		e.hub.Publish(string(msg))
	}
}

// eventType extracts the runtime event vocabulary's "type" discriminator
// for the audit trail, without this package needing to know the full set
// of event shapes (see runtime.Event's doc comment).
func eventType(msg json.RawMessage) string {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &tagged); err != nil {
		return ""
	}
	return tagged.Type
}

// runOpConsumer is the Op Consumer (§4.E): dequeue one ClientOp at a time,
// translate it, and submit it to the runtime. Ops from a single connection
// arrive here in send order because each WS handler pushes to this same
// queue serially from its own read loop; the consumer itself is single
// goroutine, preserving that order end to end.
func (e *Entry) runOpConsumer(ctx context.Context) {
	for {
		op, ok := e.ops.pop(ctx)
		if !ok {
			return
		}
		translated, err := runtime.Translate(op)
		if err != nil {
			e.log.Warn("dropping untranslatable op", "kind", op.Kind, "error", err)
			continue
		}
		if err := e.conv.Submit(ctx, translated); err != nil {
			e.log.Warn("op submission failed, continuing", "kind", op.Kind, "error", err)
		}
	}
}

// Subscribe attaches a new WebSocket subscriber to this entry's event
// stream. The caller is responsible for sending InitialEventJSON first.
func (e *Entry) Subscribe() broadcast.Subscription {
	return e.hub.Subscribe()
}

// InitialEventJSON returns the retained session_configured envelope, or
// the empty string if none was produced.
func (e *Entry) InitialEventJSON() string {
	return e.initialEventJSON
}

// Push enqueues a client op for the Op Consumer. Never blocks the caller.
func (e *Entry) Push(op clientop.Op) {
	e.ops.push(op)
}

// Close stops the Event Pump and Op Consumer and releases the underlying
// Conversation. Blocks until both tasks have exited. Safe to call more than
// once.
func (e *Entry) Close() {
	e.cancel()
	e.ops.close()
	e.hub.Close()
	<-e.done
	if err := e.conv.Close(); err != nil {
		e.log.Warn("conversation close failed", "error", err)
	}
}
