package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oakrind/loom/modelwire"
)

// CallState tracks one tool call through its lifecycle.
type CallState string

const (
	CallProposed         CallState = "proposed"
	CallAwaitingApproval CallState = "awaiting_approval"
	CallApproved         CallState = "approved"
	CallRejected         CallState = "rejected"
	CallModified         CallState = "modified"
	CallExecuting        CallState = "executing"
	CallCompleted        CallState = "completed"
	CallFailed           CallState = "failed"
	CallAborted          CallState = "aborted"
)

// ToolCall is one model-proposed invocation moving through approval and
// execution. Result is the settled tool message.
type ToolCall struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Arguments json.RawMessage   `json:"arguments"`
	State     CallState         `json:"state"`
	Result    modelwire.Message `json:"result"`

	tool        *RegisteredTool
	conflictKey string
	settled     bool
	mu          sync.Mutex
}

func (c *ToolCall) settle(state CallState, result modelwire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return
	}
	c.State = state
	c.Result = result
	c.settled = true
}

func (c *ToolCall) isSettled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// DispatchOutcome is the settled result of one tool round.
type DispatchOutcome struct {
	// Results holds one tool message per proposed call, in proposal order.
	Results []modelwire.Message
	Calls   []*ToolCall
	// Fatal is set when a fatal-on-failure tool failed; the turn ends.
	Fatal error
	// Aborted is set when the round was cancelled before all calls settled.
	Aborted bool
}

// Dispatcher runs one round of tool calls: approval first, then execution on
// a bounded worker pool. Calls sharing a conflict key execute one at a time
// in proposal order; everything else runs concurrently.
type Dispatcher struct {
	registry       Registry
	gate           *Gate
	env            ExecutionEnvironment
	maxConcurrency int
	charLimits     map[string]int
	lineLimits     map[string]int
	emitter        *EventEmitter
	logger         *slog.Logger
}

// NewDispatcher creates a Dispatcher. A non-positive maxConcurrency means 4.
func NewDispatcher(registry Registry, gate *Gate, env ExecutionEnvironment, maxConcurrency int, emitter *EventEmitter, logger *slog.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		gate:           gate,
		env:            env,
		maxConcurrency: maxConcurrency,
		emitter:        emitter,
		logger:         logger,
	}
}

// SetOutputLimits overrides the default truncation tables.
func (d *Dispatcher) SetOutputLimits(charLimits, lineLimits map[string]int) {
	d.charLimits = charLimits
	d.lineLimits = lineLimits
}

// Dispatch settles every proposed call and returns results in proposal
// order. Every call gets exactly one tool message: executed output, an error
// notice, a rejection notice, or an abort notice.
func (d *Dispatcher) Dispatch(ctx context.Context, proposed []modelwire.ToolCallData) DispatchOutcome {
	calls := make([]*ToolCall, len(proposed))
	for i, p := range proposed {
		calls[i] = &ToolCall{ID: p.ID, Name: p.Name, Arguments: p.Arguments, State: CallProposed}
	}

	d.review(ctx, calls)

	var (
		fatalMu sync.Mutex
		fatal   error
	)
	recordFatal := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
	}

	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup
	for _, group := range d.groupByConflictKey(calls) {
		wg.Add(1)
		go func(group []*ToolCall) {
			defer wg.Done()
			for _, call := range group {
				d.executeOne(ctx, call, sem, recordFatal)
			}
		}(group)
	}
	wg.Wait()

	outcome := DispatchOutcome{Calls: calls, Fatal: fatal, Aborted: ctx.Err() != nil}
	outcome.Results = make([]modelwire.Message, len(calls))
	for i, call := range calls {
		if !call.isSettled() {
			call.settle(CallAborted, abortedResult(call.ID))
		}
		outcome.Results[i] = call.Result
	}
	return outcome
}

// review resolves approval for each call sequentially. Suspended calls block
// the round; that is the point of suspension.
func (d *Dispatcher) review(ctx context.Context, calls []*ToolCall) {
	for _, call := range calls {
		if ctx.Err() != nil {
			call.settle(CallAborted, abortedResult(call.ID))
			continue
		}

		call.tool = d.registry.Lookup(call.Name)
		if call.tool == nil {
			call.settle(CallFailed, modelwire.ToolResultMessage(call.ID, fmt.Sprintf("Unknown tool: %s", call.Name), true))
			continue
		}
		if err := validateArguments(call.tool.Definition, call.Arguments); err != nil {
			call.settle(CallFailed, modelwire.ToolResultMessage(call.ID, fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err), true))
			continue
		}

		pending := PendingApproval{
			CallID:    call.ID,
			Tool:      call.Name,
			Arguments: call.Arguments,
			Effect:    call.tool.Effect,
		}
		if !d.gate.AutoApproves(call.tool.Effect) {
			call.State = CallAwaitingApproval
			d.emit(EventApprovalPending, map[string]interface{}{
				"call_id": call.ID,
				"tool":    call.Name,
				"effect":  string(call.tool.Effect),
			})
		}

		decision, err := d.gate.Review(ctx, pending)
		if err != nil {
			call.settle(CallAborted, abortedResult(call.ID))
			continue
		}
		if call.State == CallAwaitingApproval {
			d.emit(EventApprovalDecision, map[string]interface{}{
				"call_id": call.ID,
				"verdict": string(decision.Verdict),
			})
		}

		switch decision.Verdict {
		case VerdictApprove:
			call.State = CallApproved
		case VerdictModify:
			// Modified arguments go through the same schema check as the
			// model's originals before they reach the executor.
			if err := validateArguments(call.tool.Definition, decision.ModifiedArgs); err != nil {
				call.settle(CallFailed, modelwire.ToolResultMessage(call.ID,
					fmt.Sprintf("Invalid arguments for %s after modification: %v", call.Name, err), true))
				continue
			}
			call.Arguments = decision.ModifiedArgs
			call.State = CallModified
		default:
			reason := decision.Reason
			if reason == "" {
				reason = "the user declined this tool call"
			}
			call.settle(CallRejected, modelwire.ToolResultMessage(call.ID,
				fmt.Sprintf("Tool call was not approved: %s. Adjust the approach or ask the user how to proceed.", reason), true))
		}

		if call.State == CallApproved || call.State == CallModified {
			if call.tool.ConflictKey != nil {
				call.conflictKey = call.tool.ConflictKey(call.Arguments)
			}
		}
	}
}

// groupByConflictKey partitions approved calls into execution groups. Calls
// with the same non-empty key land in one group, in proposal order; each
// keyless call gets its own group.
func (d *Dispatcher) groupByConflictKey(calls []*ToolCall) [][]*ToolCall {
	var groups [][]*ToolCall
	keyed := make(map[string]int)
	for _, call := range calls {
		if call.isSettled() {
			continue
		}
		if call.conflictKey == "" {
			groups = append(groups, []*ToolCall{call})
			continue
		}
		if idx, ok := keyed[call.conflictKey]; ok {
			groups[idx] = append(groups[idx], call)
		} else {
			keyed[call.conflictKey] = len(groups)
			groups = append(groups, []*ToolCall{call})
		}
	}
	return groups
}

func (d *Dispatcher) executeOne(ctx context.Context, call *ToolCall, sem chan struct{}, recordFatal func(error)) {
	select {
	case <-ctx.Done():
		call.settle(CallAborted, abortedResult(call.ID))
		return
	case sem <- struct{}{}:
	}
	defer func() { <-sem }()

	call.mu.Lock()
	call.State = CallExecuting
	call.mu.Unlock()
	d.emit(EventToolCallStart, map[string]interface{}{
		"call_id": call.ID,
		"tool":    call.Name,
	})

	start := time.Now()
	output, err := call.tool.Executor(ctx, call.Arguments, d.env)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			call.settle(CallAborted, abortedResult(call.ID))
			return
		}
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		d.emit(EventToolCallEnd, map[string]interface{}{
			"call_id": call.ID,
			"error":   err.Error(),
		})
		if call.tool.FatalOnFailure {
			recordFatal(&ToolFatalError{Tool: call.Name, Err: err})
		}
		call.settle(CallFailed, modelwire.ToolResultMessage(call.ID, fmt.Sprintf("Tool error (%s): %v", call.Name, err), true))
		return
	}

	truncated := TruncateToolOutput(output, call.Name, d.charLimits, d.lineLimits)
	d.logger.Debug("tool call completed", "tool", call.Name, "call_id", call.ID, "duration_ms", duration.Milliseconds(), "output_bytes", len(output))
	// The event stream carries the full output; only the conversation copy
	// is truncated.
	d.emit(EventToolCallEnd, map[string]interface{}{
		"call_id": call.ID,
		"output":  output,
	})
	call.settle(CallCompleted, modelwire.ToolResultMessage(call.ID, truncated, false))
}

func (d *Dispatcher) emit(kind EventKind, data map[string]interface{}) {
	if d.emitter != nil {
		d.emitter.Emit(kind, data)
	}
}

func abortedResult(callID string) modelwire.Message {
	return modelwire.ToolResultMessage(callID, "Tool call was aborted before completion.", true)
}
