package agentcore

import (
	"errors"
	"fmt"
)

// LoopDetectedError aborts a turn when the same tool-call signature repeats
// past the detector threshold within its sliding window.
type LoopDetectedError struct {
	Signature string
	Count     int
	Window    int
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("loop detected: signature %s repeated %d times within the last %d observations", e.Signature, e.Count, e.Window)
}

// ContextOverflowError means compression could not bring the conversation
// back under the context budget.
type ContextOverflowError struct {
	Estimate int
	Budget   int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: estimated %d tokens exceeds budget of %d after compression", e.Estimate, e.Budget)
}

// ToolFatalError ends a turn when a tool flagged as fatal-on-failure returns
// an execution error.
type ToolFatalError struct {
	Tool string
	Err  error
}

func (e *ToolFatalError) Error() string {
	return fmt.Sprintf("tool %s failed fatally: %v", e.Tool, e.Err)
}

func (e *ToolFatalError) Unwrap() error { return e.Err }

// AlternationError reports a message that would break the conversation's
// role ordering rules.
type AlternationError struct {
	Index  int
	Role   string
	Detail string
}

func (e *AlternationError) Error() string {
	return fmt.Sprintf("invalid message order at index %d (role %s): %s", e.Index, e.Role, e.Detail)
}

// TurnBusyError is returned when Submit is called while a turn is already
// processing. Turns are strictly sequential per conversation.
type TurnBusyError struct {
	State TurnState
}

func (e *TurnBusyError) Error() string {
	return fmt.Sprintf("a turn is already in progress (state %s)", e.State)
}

// IsLoopDetected reports whether err is (or wraps) a LoopDetectedError.
func IsLoopDetected(err error) bool {
	var le *LoopDetectedError
	return errors.As(err, &le)
}

// IsContextOverflow reports whether err is (or wraps) a ContextOverflowError.
func IsContextOverflow(err error) bool {
	var ce *ContextOverflowError
	return errors.As(err, &ce)
}
