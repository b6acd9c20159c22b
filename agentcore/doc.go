// Package agentcore implements the execution core of an interactive coding
// agent: the turn orchestration loop that drives a conversation against a
// modelwire adapter, dispatches model-proposed tool calls through an approval
// gate and a bounded worker pool, detects repeating tool-call loops, and
// compresses history to stay inside the model's context budget.
//
// The package is organized around these concepts:
//
//   - Conversation: the ordered, role-alternation-checked message history,
//     mutated only by the orchestrating turn.
//   - Orchestrator: the turn state machine (AwaitingModel, ExecutingTools,
//     Done/Aborted/Errored) driving one conversation strictly sequentially.
//   - ToolRegistry: tool definitions with side-effect classes, conflict keys,
//     and executors bound to an ExecutionEnvironment.
//   - Gate: the approval policy deciding which tool calls run without a human
//     decision, per the active ApprovalMode.
//   - Dispatcher: concurrent tool execution that settles results back into
//     proposal order.
//   - LoopDetector: a bounded sliding window over tool-call signatures.
//   - Compressor: checkpoint-based history compression with a protected tail.
//
// # Quick Start
//
//	adapter := modelwire.NewWireAdapterForEndpoint(endpoint, transport)
//	env := agentcore.NewLocalEnvironment("/path/to/project")
//	registry := agentcore.NewToolRegistry()
//	agentcore.RegisterCoreTools(registry)
//
//	orc := agentcore.New(adapter, registry, env, approver, "", nil)
//	defer orc.Close()
//
//	result, err := orc.Submit(ctx, "Fix the failing test in parser_test.go")
package agentcore
