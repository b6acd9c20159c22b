package agentcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oakrind/loom/modelwire"
	"github.com/oakrind/loom/tokenest"
)

// TurnState is the orchestrator's position in the turn state machine.
type TurnState string

const (
	StateIdle              TurnState = "idle"
	StateAwaitingModel     TurnState = "awaiting_model"
	StateTextReceived      TurnState = "text_received"
	StateToolCallsReceived TurnState = "tool_calls_received"
	StateExecutingTools    TurnState = "executing_tools"
	StateDone              TurnState = "done"
	StateAborted           TurnState = "aborted"
	StateErrored           TurnState = "errored"
	StateClosed            TurnState = "closed"
)

// terminal reports whether a state ends a turn.
func (s TurnState) terminal() bool {
	return s == StateDone || s == StateAborted || s == StateErrored
}

// Config holds per-session orchestrator configuration. Zero values take
// defaults.
type Config struct {
	Mode                  ApprovalMode          `json:"mode"`
	Model                 string                `json:"model"`
	ContextWindow         int                   `json:"context_window"` // 0 = catalog lookup
	MaxToolRoundsPerInput int                   `json:"max_tool_rounds_per_input"`
	MaxConcurrency        int                   `json:"max_concurrency"`
	LoopWindow            int                   `json:"loop_window"`
	LoopThreshold         int                   `json:"loop_threshold"`
	CompressTrigger       float64               `json:"compress_trigger"`
	ProtectedTailTurns    int                   `json:"protected_tail_turns"`
	Retry                 modelwire.RetryPolicy `json:"-"`
	Temperature           *float64              `json:"temperature,omitempty"`
	TopP                  *float64              `json:"top_p,omitempty"`
	ReasoningEffort       string                `json:"reasoning_effort,omitempty"`
	ToolOutputLimits      map[string]int        `json:"tool_output_limits,omitempty"`
	ToolLineLimits        map[string]int        `json:"tool_line_limits,omitempty"`
	MaxSubagentDepth      int                   `json:"max_subagent_depth"`
	Logger                *slog.Logger          `json:"-"`
	Summarizer            Summarizer            `json:"-"`

	subagentDepth int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeDefault,
		Model:                 "claude-sonnet-4-5",
		MaxToolRoundsPerInput: 200,
		MaxConcurrency:        4,
		LoopWindow:            DefaultLoopWindow,
		LoopThreshold:         DefaultLoopThreshold,
		CompressTrigger:       DefaultCompressTriggerFraction,
		ProtectedTailTurns:    DefaultProtectedTailTurns,
		Retry:                 modelwire.DefaultRetryPolicy(),
		MaxSubagentDepth:      1,
	}
}

// TurnResult summarizes one completed Submit call.
type TurnResult struct {
	Text   string          `json:"text"`
	State  TurnState       `json:"state"`
	Rounds int             `json:"rounds"`
	Usage  modelwire.Usage `json:"usage"`
}

// Orchestrator drives one conversation against a modelwire adapter. Turns
// are strictly sequential: Submit fails while another turn is in flight.
type Orchestrator struct {
	id         string
	adapter    modelwire.Adapter
	registry   Registry
	env        ExecutionEnvironment
	conv       *Conversation
	gate       *Gate
	detector   *LoopDetector
	compressor *Compressor
	dispatcher *Dispatcher
	emitter    *EventEmitter
	logger     *slog.Logger
	subagents  *SubAgentManager
	cfg        Config

	state         TurnState
	steeringQueue []string
	followupQueue []string
	cancelTurn    context.CancelFunc
	mu            sync.Mutex
}

// New creates an Orchestrator. An empty system instruction gets the default
// system prompt built from the execution environment. A nil config takes
// DefaultConfig.
func New(adapter modelwire.Adapter, registry Registry, env ExecutionEnvironment, approver Approver, system string, config *Config) *Orchestrator {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
		if cfg.Model == "" {
			cfg.Model = DefaultConfig().Model
		}
		if cfg.MaxToolRoundsPerInput <= 0 {
			cfg.MaxToolRoundsPerInput = DefaultConfig().MaxToolRoundsPerInput
		}
		if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
			cfg.Retry = modelwire.DefaultRetryPolicy()
		}
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = modelwire.ContextWindowFor(cfg.Model)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	logger = logger.With("session_id", id)
	if system == "" {
		system = BuildSystemPrompt(env, cfg.Model)
	}

	est := tokenest.New()
	emitter := NewEventEmitter(id, 256)
	gate := NewGate(cfg.Mode, approver)
	dispatcher := NewDispatcher(registry, gate, env, cfg.MaxConcurrency, emitter, logger)
	dispatcher.SetOutputLimits(cfg.ToolOutputLimits, cfg.ToolLineLimits)

	o := &Orchestrator{
		id:         id,
		adapter:    adapter,
		registry:   registry,
		env:        env,
		conv:       NewConversation(system, est),
		gate:       gate,
		detector:   NewLoopDetector(cfg.LoopWindow, cfg.LoopThreshold),
		compressor: NewCompressor(est, cfg.Summarizer, cfg.CompressTrigger, cfg.ProtectedTailTurns),
		dispatcher: dispatcher,
		emitter:    emitter,
		logger:     logger,
		subagents:  NewSubAgentManager(cfg.MaxSubagentDepth, cfg.subagentDepth),
		cfg:        cfg,
		state:      StateIdle,
	}

	if tr, ok := registry.(*ToolRegistry); ok && o.subagents.CanSpawn() {
		RegisterSubagentTools(tr, o.subagents, adapter, env, approver, cfg)
	}
	return o
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current turn state.
func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Conversation returns the underlying conversation.
func (o *Orchestrator) Conversation() *Conversation { return o.conv }

// Events returns the event channel for the host application.
func (o *Orchestrator) Events() <-chan CoreEvent { return o.emitter.Events() }

// SetMode changes the approval mode for subsequent tool rounds.
func (o *Orchestrator) SetMode(mode ApprovalMode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gate.SetMode(mode)
}

// Steer queues a message injected after the current tool round, before the
// next model request.
func (o *Orchestrator) Steer(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steeringQueue = append(o.steeringQueue, message)
}

// FollowUp queues a message processed as a new turn after the current one
// completes.
func (o *Orchestrator) FollowUp(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.followupQueue = append(o.followupQueue, message)
}

// Abort cancels the in-flight turn, if any. In-flight work settles through
// the normal abort path.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close shuts down the session: the in-flight turn aborts, subagents stop,
// and the event channel closes.
func (o *Orchestrator) Close() {
	o.Abort()
	o.mu.Lock()
	o.state = StateClosed
	o.mu.Unlock()
	o.subagents.CloseAll()
	o.emitter.Emit(EventTurnEnd, map[string]interface{}{"state": string(StateClosed)})
	o.emitter.Close()
}

// Submit processes one user input through the turn loop and any queued
// follow-ups. Cancellation is not a failure: the result carries StateAborted
// and the error is nil.
func (o *Orchestrator) Submit(ctx context.Context, input string) (*TurnResult, error) {
	o.mu.Lock()
	if o.state == StateClosed {
		o.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	}
	if !o.state.terminal() && o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, &TurnBusyError{State: state}
	}
	turnCtx, cancel := context.WithCancel(ctx)
	o.cancelTurn = cancel
	// Mark the session busy before unlocking so a concurrent Submit cannot
	// pass the guard between admission and the first state transition.
	o.state = StateAwaitingModel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancelTurn = nil
		o.mu.Unlock()
	}()

	result, err := o.runTurn(turnCtx, input)
	if err != nil {
		return result, err
	}

	for {
		o.mu.Lock()
		if len(o.followupQueue) == 0 || o.state != StateDone {
			o.mu.Unlock()
			return result, nil
		}
		next := o.followupQueue[0]
		o.followupQueue = o.followupQueue[1:]
		o.state = StateAwaitingModel
		o.mu.Unlock()

		result, err = o.runTurn(turnCtx, next)
		if err != nil {
			return result, err
		}
	}
}

// runTurn executes the state machine for one user input.
func (o *Orchestrator) runTurn(ctx context.Context, input string) (*TurnResult, error) {
	o.detector.Reset()
	o.emitter.Emit(EventTurnStart, map[string]interface{}{"input": input})

	result := &TurnResult{}
	if err := o.conv.Append(modelwire.UserMessage(input)); err != nil {
		o.setState(StateErrored)
		result.State = StateErrored
		return result, err
	}
	o.drainSteering()

	for {
		if result.Rounds >= o.cfg.MaxToolRoundsPerInput {
			o.emitter.Emit(EventRoundLimit, map[string]interface{}{"rounds": result.Rounds})
			o.logger.Warn("tool round limit reached", "rounds", result.Rounds)
			o.setState(StateDone)
			result.State = StateDone
			return result, nil
		}

		if err := o.ensureBudget(ctx); err != nil {
			o.setState(StateErrored)
			result.State = StateErrored
			return result, err
		}

		o.setState(StateAwaitingModel)
		resp, err := o.requestModel(ctx)
		if err != nil {
			if isAbort(ctx, err) {
				o.setState(StateAborted)
				result.State = StateAborted
				return result, nil
			}
			o.setState(StateErrored)
			result.State = StateErrored
			o.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return result, fmt.Errorf("model request: %w", err)
		}

		if err := o.conv.Append(resp.Message); err != nil {
			o.setState(StateErrored)
			result.State = StateErrored
			return result, err
		}
		result.Usage = result.Usage.Add(resp.Usage)
		result.Text = resp.Text()
		o.emitter.Emit(EventAssistantText, map[string]interface{}{
			"text":      resp.Text(),
			"reasoning": resp.Message.Reasoning(),
		})

		// Text repeats count toward a loop on every round, so a model that
		// restates the same answer while varying its tool arguments still
		// trips detection.
		if text := resp.Text(); text != "" {
			if loopErr := o.detector.Observe(ResponseSignature(text)); loopErr != nil {
				return o.abortOnLoop(result, loopErr)
			}
		}

		toolCalls := resp.ToolCallsFromResponse()
		if len(toolCalls) == 0 {
			o.setState(StateTextReceived)
			o.setState(StateDone)
			result.State = StateDone
			o.emitter.Emit(EventTurnEnd, map[string]interface{}{"state": string(StateDone)})
			return result, nil
		}

		o.setState(StateToolCallsReceived)
		o.setState(StateExecutingTools)
		result.Rounds++

		outcome := o.dispatcher.Dispatch(ctx, toolCalls)
		for _, msg := range outcome.Results {
			if err := o.conv.Append(msg); err != nil {
				o.setState(StateErrored)
				result.State = StateErrored
				return result, err
			}
		}

		if outcome.Aborted {
			o.setState(StateAborted)
			result.State = StateAborted
			o.emitter.Emit(EventTurnEnd, map[string]interface{}{"state": string(StateAborted)})
			return result, nil
		}
		if outcome.Fatal != nil {
			o.setState(StateErrored)
			result.State = StateErrored
			o.emitter.Emit(EventError, map[string]interface{}{"error": outcome.Fatal.Error()})
			return result, outcome.Fatal
		}

		var loopErr *LoopDetectedError
		for _, call := range outcome.Calls {
			if call.State == CallCompleted || call.State == CallFailed {
				if le := o.detector.Observe(ToolCallSignature(call.Name, call.Arguments)); le != nil {
					loopErr = le
				}
			}
		}
		if loopErr != nil {
			return o.abortOnLoop(result, loopErr)
		}

		o.drainSteering()
	}
}

func (o *Orchestrator) abortOnLoop(result *TurnResult, loopErr *LoopDetectedError) (*TurnResult, error) {
	o.logger.Warn("loop detected", "signature", loopErr.Signature, "count", loopErr.Count)
	o.emitter.Emit(EventLoopDetected, map[string]interface{}{
		"signature": loopErr.Signature,
		"count":     loopErr.Count,
	})
	o.setState(StateAborted)
	result.State = StateAborted
	return result, loopErr
}

// ensureBudget compresses history until the next request fits the context
// budget.
func (o *Orchestrator) ensureBudget(ctx context.Context) error {
	tools := o.registry.Definitions()
	if !o.compressor.NeedsCompression(o.conv, tools, o.cfg.ContextWindow) {
		return nil
	}
	before := o.conv.EstimateWith(tools)
	if err := o.compressor.Compress(ctx, o.conv, tools, o.cfg.ContextWindow); err != nil {
		return err
	}
	after := o.conv.EstimateWith(tools)
	o.logger.Info("history compressed", "tokens_before", before, "tokens_after", after)
	o.emitter.Emit(EventCompression, map[string]interface{}{
		"tokens_before": before,
		"tokens_after":  after,
	})
	return nil
}

// requestModel builds the wire request and drives one streamed completion,
// retrying transient failures per the configured policy.
func (o *Orchestrator) requestModel(ctx context.Context) (*modelwire.Response, error) {
	req := modelwire.Request{
		Model:           o.cfg.Model,
		System:          o.conv.System(),
		Messages:        o.conv.Messages(),
		ToolDefs:        o.registry.Definitions(),
		ToolChoice:      &modelwire.ToolChoice{Mode: "auto"},
		Temperature:     o.cfg.Temperature,
		TopP:            o.cfg.TopP,
		ReasoningEffort: o.cfg.ReasoningEffort,
	}
	requestID := uuid.New().String()

	return modelwire.Retry(ctx, o.cfg.Retry, func(ctx context.Context) (*modelwire.Response, error) {
		payload, err := o.adapter.BuildRequest(req, requestID)
		if err != nil {
			return nil, err
		}
		events, err := o.adapter.Stream(ctx, payload)
		if err != nil {
			return nil, err
		}
		return modelwire.Collect(ctx, events)
	})
}

func (o *Orchestrator) drainSteering() {
	o.mu.Lock()
	queued := o.steeringQueue
	o.steeringQueue = nil
	o.mu.Unlock()
	for _, msg := range queued {
		if err := o.conv.Append(modelwire.UserMessage(msg)); err != nil {
			o.logger.Warn("dropping steering message", "error", err)
		}
	}
}

func (o *Orchestrator) setState(state TurnState) {
	o.mu.Lock()
	prev := o.state
	o.state = state
	o.mu.Unlock()
	if prev != state {
		o.emitter.Emit(EventStateChange, map[string]interface{}{
			"from": string(prev),
			"to":   string(state),
		})
	}
}

// isAbort reports whether err represents cancellation rather than failure.
func isAbort(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var abort *modelwire.AbortError
	return errors.As(err, &abort) || errors.Is(err, context.Canceled)
}
