// Package runtime declares the narrow interface the gateway needs from the
// underlying agent runtime and carries the translation from a decoded
// ClientOp into the runtime's own Op representation. The runtime itself
// (the LLM-plus-tools loop) is an external collaborator; this package only
// describes its shape, the way internal/agent's Processor interface
// described the teacher's Python agent without binding to its transport.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/agentgateway/internal/clientop"
)

// ErrStreamEnded is returned by Conversation.NextEvent once the runtime has
// no further events to produce. It is not a failure; the Event Pump treats
// it as ordinary end-of-stream.
var ErrStreamEnded = errors.New("runtime: event stream ended")

// Event is a single envelope produced by the runtime. Msg is left as raw
// JSON because the event vocabulary itself (task_started, agent_message,
// exec_command_begin, ...) belongs to the runtime, not the gateway — the
// gateway only needs to retain, serialize, and forward it.
type Event struct {
	ID  string          `json:"id"`
	Msg json.RawMessage `json:"msg"`
}

// OpKind mirrors the Op variants the runtime accepts, the other half of
// the ClientOp translation.
type OpKind string

const (
	OpUserInput            OpKind = "user_input"
	OpInterrupt            OpKind = "interrupt"
	OpExecApproval         OpKind = "exec_approval"
	OpPatchApproval        OpKind = "patch_approval"
	OpCompact              OpKind = "compact"
	OpOverrideTurnContext  OpKind = "override_turn_context"
)

// InputItem is one element of a user_input op's content list.
type InputItem struct {
	Type     string `json:"type"` // "text" | "image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// TurnContextOverride carries the subset of per-turn config a client may
// override mid-conversation.
type TurnContextOverride struct {
	Cwd            *string
	Model          *string
	ApprovalPolicy *string
	Effort         *string
	SandboxPolicy  *SandboxPolicy
}

// SandboxPolicy is the expanded form of clientop.SandboxMode: the runtime
// wants a concrete policy value, not the wire string.
type SandboxPolicy struct {
	Mode            clientop.SandboxMode
	DangerFullAccess bool
}

// Op is what the Op Consumer submits to the runtime after translating a
// ClientOp.
type Op struct {
	Kind           OpKind
	InputItems     []InputItem
	ApprovalID     string
	Decision       clientop.Decision
	TurnContext    *TurnContextOverride
}

// Conversation is the capability set the gateway needs from a live
// conversation: a blocking event source and an op sink. Implementations
// must allow one goroutine to call Submit while another is blocked in
// NextEvent.
type Conversation interface {
	// NextEvent blocks until the next event is available, the context is
	// canceled, or the stream ends (ErrStreamEnded).
	NextEvent(ctx context.Context) (Event, error)
	// Submit enqueues an op for the runtime to act on. Errors are
	// transport/validation failures; the Op Consumer logs and discards
	// them rather than terminating the session.
	Submit(ctx context.Context, op Op) error
	// Close releases any resources the conversation holds. Safe to call
	// more than once.
	Close() error
}

// Translate converts a decoded ClientOp into the runtime's Op
// representation, per SPEC_FULL §4.E.
func Translate(op clientop.Op) (Op, error) {
	switch op.Kind {
	case clientop.KindUserMessage:
		items := make([]InputItem, 0, 1+len(op.Images))
		if op.Text != "" {
			items = append(items, InputItem{Type: "text", Text: op.Text})
		}
		for _, url := range op.Images {
			items = append(items, InputItem{Type: "image", ImageURL: url})
		}
		return Op{Kind: OpUserInput, InputItems: items}, nil

	case clientop.KindInterrupt:
		return Op{Kind: OpInterrupt}, nil

	case clientop.KindExecApproval:
		return Op{Kind: OpExecApproval, ApprovalID: op.ApprovalID, Decision: op.Decision}, nil

	case clientop.KindPatchApproval:
		return Op{Kind: OpPatchApproval, ApprovalID: op.ApprovalID, Decision: op.Decision}, nil

	case clientop.KindCompact:
		return Op{Kind: OpCompact}, nil

	case clientop.KindOverrideTurnContext:
		tc := &TurnContextOverride{
			Cwd:            op.Cwd,
			Model:          op.Model,
			ApprovalPolicy: op.ApprovalPolicy,
			Effort:         op.Effort,
		}
		if op.SandboxMode != nil {
			tc.SandboxPolicy = &SandboxPolicy{
				Mode:             *op.SandboxMode,
				DangerFullAccess: *op.SandboxMode == clientop.SandboxDangerFullAccess,
			}
		}
		return Op{Kind: OpOverrideTurnContext, TurnContext: tc}, nil

	default:
		return Op{}, fmt.Errorf("runtime: no translation for client op %q", op.Kind)
	}
}
