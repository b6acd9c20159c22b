package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/oakrind/loom/modelwire"
)

// SubAgentStatus is the lifecycle state of a subagent.
type SubAgentStatus string

const (
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
)

// SubAgentResult holds the output of a finished subagent.
type SubAgentResult struct {
	Output  string `json:"output"`
	Success bool   `json:"success"`
	Rounds  int    `json:"rounds"`
}

// SubAgentHandle tracks one child agent.
type SubAgentHandle struct {
	ID           string          `json:"id"`
	Orchestrator *Orchestrator   `json:"-"`
	Status       SubAgentStatus  `json:"status"`
	Result       *SubAgentResult `json:"result,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// Wait blocks until the subagent finishes or ctx is cancelled.
func (h *SubAgentHandle) Wait(ctx context.Context) (SubAgentStatus, *SubAgentResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return SubAgentRunning, nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Status, h.Result, nil
}

// SubAgentManager manages child agents for a parent session. Depth is
// bounded so subagents cannot spawn indefinitely.
type SubAgentManager struct {
	agents   map[string]*SubAgentHandle
	maxDepth int
	depth    int
	mu       sync.RWMutex
}

// NewSubAgentManager creates a manager at the given nesting depth.
func NewSubAgentManager(maxDepth, currentDepth int) *SubAgentManager {
	return &SubAgentManager{
		agents:   make(map[string]*SubAgentHandle),
		maxDepth: maxDepth,
		depth:    currentDepth,
	}
}

// CanSpawn reports whether nesting depth allows another level.
func (m *SubAgentManager) CanSpawn() bool {
	return m.depth < m.maxDepth
}

// Spawn starts a child orchestrator on the given task. The child shares the
// parent's adapter, environment, and approver but runs its own conversation.
func (m *SubAgentManager) Spawn(ctx context.Context, adapter modelwire.Adapter, env ExecutionEnvironment, approver Approver, parentCfg Config, task string) (*SubAgentHandle, error) {
	if !m.CanSpawn() {
		return nil, fmt.Errorf("maximum subagent depth (%d) reached", m.maxDepth)
	}

	subCtx, cancel := context.WithCancel(ctx)
	cfg := parentCfg
	cfg.MaxToolRoundsPerInput = 50
	cfg.subagentDepth = m.depth + 1

	registry := NewToolRegistry()
	RegisterCoreTools(registry)
	child := New(adapter, registry, env, approver, "", &cfg)

	handle := &SubAgentHandle{
		ID:           uuid.New().String(),
		Orchestrator: child,
		Status:       SubAgentRunning,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.mu.Lock()
	m.agents[handle.ID] = handle
	m.mu.Unlock()

	go func() {
		defer close(handle.done)
		defer child.Close()
		result, err := child.Submit(subCtx, task)

		handle.mu.Lock()
		defer handle.mu.Unlock()
		switch {
		case err != nil:
			handle.Status = SubAgentFailed
			handle.Result = &SubAgentResult{Output: fmt.Sprintf("Error: %v", err), Success: false}
		case result.State != StateDone:
			handle.Status = SubAgentFailed
			handle.Result = &SubAgentResult{Output: result.Text, Success: false, Rounds: result.Rounds}
		default:
			handle.Status = SubAgentCompleted
			handle.Result = &SubAgentResult{Output: result.Text, Success: true, Rounds: result.Rounds}
		}
	}()

	return handle, nil
}

// Get returns a handle by ID, or nil.
func (m *SubAgentManager) Get(id string) *SubAgentHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agents[id]
}

// Close terminates one subagent.
func (m *SubAgentManager) Close(id string) error {
	m.mu.Lock()
	handle, ok := m.agents[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subagent %s not found", id)
	}
	handle.cancel()
	return nil
}

// CloseAll terminates every active subagent.
func (m *SubAgentManager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, handle := range m.agents {
		handle.cancel()
	}
}

// RegisterSubagentTools registers spawn_agent, send_input, wait_agent, and
// close_agent on the registry. spawn_agent is mutating: the child can change
// the workspace.
func RegisterSubagentTools(reg *ToolRegistry, manager *SubAgentManager, adapter modelwire.Adapter, env ExecutionEnvironment, approver Approver, parentCfg Config) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "spawn_agent",
			Description: "Spawn a subagent to handle a scoped task autonomously. Returns an agent ID to wait on.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task": map[string]interface{}{
						"type":        "string",
						"description": "Natural language task description.",
					},
				},
				"required": []string{"task"},
			},
		},
		Effect: SideEffectMutating,
		Executor: func(ctx context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			task, ok := GetStringArg(args, "task")
			if !ok || task == "" {
				return "", fmt.Errorf("task is required")
			}
			handle, err := manager.Spawn(context.WithoutCancel(ctx), adapter, execEnv, approver, parentCfg, task)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Subagent spawned with ID: %s\nStatus: %s", handle.ID, handle.Status), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "send_input",
			Description: "Send a steering message to a running subagent.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Message to send.",
					},
				},
				"required": []string{"agent_id", "message"},
			},
		},
		Effect: SideEffectMutating,
		Executor: func(ctx context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")
			message, _ := GetStringArg(args, "message")
			handle := manager.Get(agentID)
			if handle == nil {
				return "", fmt.Errorf("subagent %s not found", agentID)
			}
			handle.Orchestrator.Steer(message)
			return fmt.Sprintf("Message sent to subagent %s", agentID), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "wait_agent",
			Description: "Wait for a subagent to complete and return its result.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
				},
				"required": []string{"agent_id"},
			},
		},
		Effect:    SideEffectReadOnly,
		Retryable: true,
		Executor: func(ctx context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")
			handle := manager.Get(agentID)
			if handle == nil {
				return "", fmt.Errorf("subagent %s not found", agentID)
			}
			status, result, err := handle.Wait(ctx)
			if err != nil {
				return "", err
			}
			if result == nil {
				return fmt.Sprintf("Status: %s", status), nil
			}
			return fmt.Sprintf("Status: %s\nRounds used: %d\nOutput:\n%s", status, result.Rounds, result.Output), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "close_agent",
			Description: "Terminate a subagent.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
				},
				"required": []string{"agent_id"},
			},
		},
		Effect: SideEffectMutating,
		Executor: func(ctx context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")
			if err := manager.Close(agentID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Subagent %s terminated", agentID), nil
		},
	})
}
