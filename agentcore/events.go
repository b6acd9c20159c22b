package agentcore

import (
	"sync"
	"time"
)

// EventKind identifies the type of orchestrator event.
type EventKind string

const (
	EventTurnStart        EventKind = "turn_start"
	EventTurnEnd          EventKind = "turn_end"
	EventStateChange      EventKind = "state_change"
	EventAssistantText    EventKind = "assistant_text"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallEnd      EventKind = "tool_call_end"
	EventApprovalPending  EventKind = "approval_pending"
	EventApprovalDecision EventKind = "approval_decision"
	EventLoopDetected     EventKind = "loop_detected"
	EventCompression      EventKind = "compression"
	EventRoundLimit       EventKind = "round_limit"
	EventWarning          EventKind = "warning"
	EventError            EventKind = "error"
)

// CoreEvent is a typed event emitted by the orchestrator for host UIs.
type CoreEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a buffered
// channel. Emission never blocks the turn: when the host falls behind,
// events are dropped.
type EventEmitter struct {
	sessionID string
	ch        chan CoreEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan CoreEvent, bufferSize),
	}
}

// Emit sends an event. Closed emitters and full channels drop silently.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := CoreEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan CoreEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
