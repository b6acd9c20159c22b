package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oakrind/loom/modelwire"
)

// scriptStep is one scripted model response.
type scriptStep struct {
	text  string
	calls []modelwire.ToolCallData
	err   error
}

// scriptedAdapter replays canned responses as normalized stream events.
type scriptedAdapter struct {
	steps      []scriptStep
	repeatLast bool
	requests   int
	mu         sync.Mutex
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) BuildHeaders() map[string]string { return nil }

func (a *scriptedAdapter) BuildRequest(req modelwire.Request, requestID string) (modelwire.Payload, error) {
	return modelwire.Payload{Endpoint: "scripted://test"}, nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, p modelwire.Payload) (<-chan modelwire.StreamEvent, error) {
	a.mu.Lock()
	idx := a.requests
	a.requests++
	if idx >= len(a.steps) {
		if !a.repeatLast {
			a.mu.Unlock()
			return nil, fmt.Errorf("no scripted response for request %d", idx)
		}
		idx = len(a.steps) - 1
	}
	step := a.steps[idx]
	a.mu.Unlock()

	ch := make(chan modelwire.StreamEvent, 32)
	go func() {
		defer close(ch)
		if step.err != nil {
			ch <- modelwire.StreamEvent{Type: modelwire.StreamError, Err: step.err}
			return
		}
		if step.text != "" {
			ch <- modelwire.StreamEvent{Type: modelwire.TextDelta, Delta: step.text}
		}
		for _, c := range step.calls {
			ch <- modelwire.StreamEvent{Type: modelwire.ToolCallStart, ToolCallID: c.ID, ToolName: c.Name}
			ch <- modelwire.StreamEvent{Type: modelwire.ToolCallDelta, ToolCallID: c.ID, Delta: string(c.Arguments)}
			ch <- modelwire.StreamEvent{Type: modelwire.ToolCallEnd, ToolCallID: c.ID}
		}
		usage := modelwire.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
		ch <- modelwire.StreamEvent{Type: modelwire.StreamFinish, Usage: &usage}
	}()
	return ch, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeYolo
	cfg.ContextWindow = 1_000_000
	cfg.MaxSubagentDepth = 0
	return cfg
}

func newTestOrchestrator(adapter modelwire.Adapter, reg *ToolRegistry, cfg Config) *Orchestrator {
	return New(adapter, reg, newFakeEnv(), nil, "test system prompt", &cfg)
}

func TestOrchestratorTextOnlyTurn(t *testing.T) {
	adapter := &scriptedAdapter{steps: []scriptStep{{text: "hello there"}}}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if result.Text != "hello there" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Rounds != 0 {
		t.Errorf("text-only turn has no tool rounds, got %d", result.Rounds)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}

	msgs := orc.Conversation().Messages()
	if len(msgs) != 2 || msgs[0].Role != modelwire.RoleUser || msgs[1].Role != modelwire.RoleAssistant {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestOrchestratorToolRound(t *testing.T) {
	reg := NewToolRegistry()
	tool := noopTool("probe", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		return "probe output", nil
	}
	reg.Register(tool)

	adapter := &scriptedAdapter{steps: []scriptStep{
		{text: "let me check", calls: []modelwire.ToolCallData{call("call_1", "probe", `{"n":1}`)}},
		{text: "all finished"},
	}}
	orc := newTestOrchestrator(adapter, reg, testConfig())
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "check it")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.State != StateDone || result.Rounds != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Text != "all finished" {
		t.Errorf("result text should be the final response, got %q", result.Text)
	}
	if result.Usage.TotalTokens != 30 {
		t.Errorf("usage should aggregate across rounds: %+v", result.Usage)
	}

	conv := orc.Conversation()
	if err := conv.ValidateAlternation(); err != nil {
		t.Errorf("history must validate: %v", err)
	}
	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected user/assistant/tool/assistant, got %d messages", len(msgs))
	}
	if msgs[2].Role != modelwire.RoleTool || !strings.Contains(resultText(t, msgs[2]), "probe output") {
		t.Errorf("tool result missing: %+v", msgs[2])
	}
}

func TestOrchestratorLoopDetectionAbortsTurn(t *testing.T) {
	reg := NewToolRegistry()
	tool := noopTool("probe", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		return "same output", nil
	}
	reg.Register(tool)

	cfg := testConfig()
	cfg.LoopWindow = 10
	cfg.LoopThreshold = 3

	adapter := &scriptedAdapter{
		steps: []scriptStep{
			{calls: []modelwire.ToolCallData{call("call_1", "probe", `{"target":"x"}`)}},
		},
		repeatLast: true,
	}
	orc := newTestOrchestrator(adapter, reg, cfg)
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "go")
	var loopErr *LoopDetectedError
	if !errors.As(err, &loopErr) {
		t.Fatalf("expected LoopDetectedError, got %v", err)
	}
	if !strings.HasPrefix(loopErr.Signature, "tool:") {
		t.Errorf("expected a tool signature, got %q", loopErr.Signature)
	}
	if result.State != StateAborted {
		t.Errorf("expected aborted state, got %s", result.State)
	}
	if result.Rounds != cfg.LoopThreshold {
		t.Errorf("expected trip on round %d, got %d", cfg.LoopThreshold, result.Rounds)
	}
	if err := orc.Conversation().ValidateAlternation(); err != nil {
		t.Errorf("aborted history must stay well formed: %v", err)
	}
}

func TestOrchestratorLoopDetectionOnRepeatedText(t *testing.T) {
	reg := NewToolRegistry()
	tool := noopTool("probe", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		return "output", nil
	}
	reg.Register(tool)

	cfg := testConfig()
	cfg.LoopWindow = 10
	cfg.LoopThreshold = 3

	// Identical prose each round, but distinct tool arguments: only the
	// text signature repeats.
	adapter := &scriptedAdapter{steps: []scriptStep{
		{text: "checking the file again", calls: []modelwire.ToolCallData{call("c1", "probe", `{"n":1}`)}},
		{text: "checking the file again", calls: []modelwire.ToolCallData{call("c2", "probe", `{"n":2}`)}},
		{text: "checking the file again", calls: []modelwire.ToolCallData{call("c3", "probe", `{"n":3}`)}},
	}}
	orc := newTestOrchestrator(adapter, reg, cfg)
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "go")
	var loopErr *LoopDetectedError
	if !errors.As(err, &loopErr) {
		t.Fatalf("expected LoopDetectedError, got %v", err)
	}
	if !strings.HasPrefix(loopErr.Signature, "text:") {
		t.Errorf("expected a text signature, got %q", loopErr.Signature)
	}
	if result.State != StateAborted {
		t.Errorf("expected aborted state, got %s", result.State)
	}
}

func TestOrchestratorCancellationMidRound(t *testing.T) {
	started := make(chan struct{})
	reg := NewToolRegistry()
	tool := noopTool("slow", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	reg.Register(tool)

	adapter := &scriptedAdapter{steps: []scriptStep{
		{calls: []modelwire.ToolCallData{call("call_1", "slow", `{}`)}},
	}}
	orc := newTestOrchestrator(adapter, reg, testConfig())
	defer orc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	type submitResult struct {
		result *TurnResult
		err    error
	}
	done := make(chan submitResult, 1)
	go func() {
		r, err := orc.Submit(ctx, "run the slow thing")
		done <- submitResult{r, err}
	}()

	<-started
	cancel()
	got := <-done

	// Cancellation is the normal abort path, not a failure.
	if got.err != nil {
		t.Fatalf("abort should not be an error: %v", got.err)
	}
	if got.result.State != StateAborted {
		t.Errorf("expected aborted, got %s", got.result.State)
	}

	conv := orc.Conversation()
	if err := conv.ValidateAlternation(); err != nil {
		t.Errorf("aborted history must stay well formed: %v", err)
	}
	msgs := conv.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != modelwire.RoleTool || !resultIsError(t, last) {
		t.Errorf("aborted call needs a synthesized error result: %+v", last)
	}
	if adapter.requests != 1 {
		t.Errorf("no provider request should follow an abort, saw %d", adapter.requests)
	}
}

func TestOrchestratorModelErrorEndsTurnErrored(t *testing.T) {
	adapter := &scriptedAdapter{steps: []scriptStep{
		{err: modelwire.ErrorFromStatusCode(400, "malformed request", "scripted", "", nil)},
	}}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "go")
	if err == nil {
		t.Fatal("expected an error from the model request")
	}
	if result.State != StateErrored {
		t.Errorf("expected errored state, got %s", result.State)
	}
	if adapter.requests != 1 {
		t.Errorf("structural errors must not be retried, saw %d requests", adapter.requests)
	}
}

func TestOrchestratorRoundLimit(t *testing.T) {
	counter := 0
	reg := NewToolRegistry()
	tool := noopTool("step", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		counter++
		return fmt.Sprintf("step %d", counter), nil
	}
	reg.Register(tool)

	cfg := testConfig()
	cfg.MaxToolRoundsPerInput = 3
	cfg.LoopThreshold = 100

	adapter := &scriptedAdapter{
		steps: []scriptStep{
			{calls: []modelwire.ToolCallData{call("call_1", "step", `{}`)}},
		},
		repeatLast: true,
	}
	orc := newTestOrchestrator(adapter, reg, cfg)
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.State != StateDone || result.Rounds != 3 {
		t.Errorf("expected clean stop at 3 rounds, got %+v", result)
	}
}

func TestOrchestratorRejectsConcurrentSubmit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg := NewToolRegistry()
	tool := noopTool("hold", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}
	reg.Register(tool)

	adapter := &scriptedAdapter{steps: []scriptStep{
		{calls: []modelwire.ToolCallData{call("call_1", "hold", `{}`)}},
		{text: "done"},
	}}
	orc := newTestOrchestrator(adapter, reg, testConfig())
	defer orc.Close()

	go orc.Submit(context.Background(), "first") //nolint:errcheck

	<-started
	_, err := orc.Submit(context.Background(), "second")
	var busy *TurnBusyError
	if !errors.As(err, &busy) {
		t.Errorf("expected TurnBusyError, got %v", err)
	}
	close(release)
}

func TestSubmitAdmitsOneTurnAtATime(t *testing.T) {
	started := make(chan struct{})
	adapter := &blockingAdapter{started: started}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())
	defer orc.Close()

	type outcome struct {
		result *TurnResult
		err    error
	}
	results := make(chan outcome, 2)
	begin := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-begin
			r, err := orc.Submit(context.Background(), "race")
			results <- outcome{r, err}
		}()
	}
	close(begin)

	// Admission is atomic: whichever Submit wins marks the session busy
	// before releasing the lock, so the other returns immediately.
	first := <-results
	var busy *TurnBusyError
	if !errors.As(first.err, &busy) {
		t.Fatalf("losing Submit should get TurnBusyError, got %v", first.err)
	}

	<-started
	orc.Abort()
	second := <-results
	if second.err != nil {
		t.Fatalf("winning Submit should settle cleanly: %v", second.err)
	}
	if second.result.State != StateAborted {
		t.Errorf("expected aborted, got %s", second.result.State)
	}
	if got := orc.Conversation().Len(); got != 1 {
		t.Errorf("only the admitted turn may touch the conversation, got %d messages", got)
	}
}

func TestOrchestratorSteeringInjectedBeforeRequest(t *testing.T) {
	adapter := &scriptedAdapter{steps: []scriptStep{{text: "noted"}}}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())
	defer orc.Close()

	orc.Steer("also update the changelog")
	if _, err := orc.Submit(context.Background(), "fix the bug"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msgs := orc.Conversation().Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected user+steering+assistant, got %d", len(msgs))
	}
	if msgs[1].Role != modelwire.RoleUser || !strings.Contains(msgs[1].TextContent(), "changelog") {
		t.Errorf("steering message missing: %+v", msgs[1])
	}
}

func TestOrchestratorFollowUpRunsAsNextTurn(t *testing.T) {
	adapter := &scriptedAdapter{steps: []scriptStep{{text: "first answer"}, {text: "second answer"}}}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())
	defer orc.Close()

	orc.FollowUp("and then do the second thing")
	result, err := orc.Submit(context.Background(), "do the first thing")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Text != "second answer" {
		t.Errorf("result should reflect the follow-up turn, got %q", result.Text)
	}
	if got := orc.Conversation().Len(); got != 4 {
		t.Errorf("expected two full turns in history, got %d messages", got)
	}
}

func TestOrchestratorRejectedToolSurfacesToModel(t *testing.T) {
	reg := NewToolRegistry()
	executed := false
	tool := noopTool("write_file", SideEffectMutating)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		executed = true
		return "", nil
	}
	reg.Register(tool)

	cfg := testConfig()
	cfg.Mode = ModeDefault // no approver configured: mutating calls reject

	adapter := &scriptedAdapter{steps: []scriptStep{
		{calls: []modelwire.ToolCallData{call("call_1", "write_file", `{}`)}},
		{text: "understood, stopping"},
	}}
	orc := newTestOrchestrator(adapter, reg, cfg)
	defer orc.Close()

	result, err := orc.Submit(context.Background(), "write it")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if executed {
		t.Error("rejected tool must not execute")
	}
	if result.State != StateDone {
		t.Errorf("rejection is not fatal to the turn: %s", result.State)
	}
	msgs := orc.Conversation().Messages()
	if !strings.Contains(resultText(t, msgs[2]), "not approved") {
		t.Errorf("model should see the rejection notice: %s", resultText(t, msgs[2]))
	}
}

func TestOrchestratorEmitsLifecycleEvents(t *testing.T) {
	adapter := &scriptedAdapter{steps: []scriptStep{{text: "hi"}}}
	orc := newTestOrchestrator(adapter, NewToolRegistry(), testConfig())

	if _, err := orc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	orc.Close()

	kinds := map[EventKind]bool{}
	for ev := range orc.Events() {
		kinds[ev.Kind] = true
	}
	for _, want := range []EventKind{EventTurnStart, EventStateChange, EventAssistantText, EventTurnEnd} {
		if !kinds[want] {
			t.Errorf("missing %s event", want)
		}
	}
}

func TestOrchestratorAbortMethod(t *testing.T) {
	started := make(chan struct{})
	reg := NewToolRegistry()
	tool := noopTool("slow", SideEffectReadOnly)
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	reg.Register(tool)

	adapter := &scriptedAdapter{steps: []scriptStep{
		{calls: []modelwire.ToolCallData{call("call_1", "slow", `{}`)}},
	}}
	orc := newTestOrchestrator(adapter, reg, testConfig())
	defer orc.Close()

	done := make(chan *TurnResult, 1)
	go func() {
		r, _ := orc.Submit(context.Background(), "go")
		done <- r
	}()

	<-started
	orc.Abort()

	select {
	case result := <-done:
		if result.State != StateAborted {
			t.Errorf("expected aborted, got %s", result.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not unwind the turn")
	}
}
