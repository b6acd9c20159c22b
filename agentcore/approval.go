package agentcore

import (
	"context"
	"encoding/json"
)

// ApprovalMode selects how much the gate trusts the model.
type ApprovalMode string

const (
	// ModePlan suspends every state-changing call; the agent is exploring.
	ModePlan ApprovalMode = "plan"
	// ModeDefault auto-approves read-only calls only.
	ModeDefault ApprovalMode = "default"
	// ModeAutoEdit additionally auto-approves mutating calls.
	ModeAutoEdit ApprovalMode = "auto-edit"
	// ModeYolo auto-approves everything, including fatal-on-misuse tools.
	ModeYolo ApprovalMode = "yolo"
)

// Verdict is the outcome of an approval decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	// VerdictModify approves the call with replacement arguments.
	VerdictModify Verdict = "modify"
)

// Decision carries an approver's verdict for one pending call.
type Decision struct {
	Verdict      Verdict         `json:"verdict"`
	ModifiedArgs json.RawMessage `json:"modified_args,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// PendingApproval describes a suspended tool call awaiting a decision.
type PendingApproval struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Effect    SideEffect      `json:"effect"`
}

// Approver is the host-side decision surface. Decide blocks until the human
// (or policy engine) answers; the context bounds the wait.
type Approver interface {
	Decide(ctx context.Context, pending PendingApproval) (Decision, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, pending PendingApproval) (Decision, error)

func (f ApproverFunc) Decide(ctx context.Context, pending PendingApproval) (Decision, error) {
	return f(ctx, pending)
}

// Gate applies the approval policy for one session.
type Gate struct {
	mode     ApprovalMode
	approver Approver
}

// NewGate creates a Gate. A nil approver means suspended calls are rejected
// with an explanatory notice instead of blocking forever.
func NewGate(mode ApprovalMode, approver Approver) *Gate {
	if mode == "" {
		mode = ModeDefault
	}
	return &Gate{mode: mode, approver: approver}
}

// Mode returns the active approval mode.
func (g *Gate) Mode() ApprovalMode { return g.mode }

// SetMode changes the approval mode for subsequent reviews.
func (g *Gate) SetMode(mode ApprovalMode) { g.mode = mode }

// AutoApproves reports whether the mode lets calls of the given class run
// without a decision.
func (g *Gate) AutoApproves(effect SideEffect) bool {
	switch g.mode {
	case ModeYolo:
		return true
	case ModeAutoEdit:
		return effect == SideEffectReadOnly || effect == SideEffectMutating
	default:
		// plan and default: only observation runs unattended.
		return effect == SideEffectReadOnly
	}
}

// Review resolves one pending call: auto-approve per mode, otherwise suspend
// on the approver.
func (g *Gate) Review(ctx context.Context, pending PendingApproval) (Decision, error) {
	if g.AutoApproves(pending.Effect) {
		return Decision{Verdict: VerdictApprove}, nil
	}
	if g.approver == nil {
		return Decision{
			Verdict: VerdictReject,
			Reason:  "no approver is configured for this session",
		}, nil
	}
	return g.approver.Decide(ctx, pending)
}
