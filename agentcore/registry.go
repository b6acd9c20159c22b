package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oakrind/loom/modelwire"
)

// SideEffect classifies what a tool can do to the world. The approval gate
// keys off this class.
type SideEffect string

const (
	// SideEffectReadOnly tools observe state and never change it.
	SideEffectReadOnly SideEffect = "read-only"
	// SideEffectMutating tools change files or other workspace state.
	SideEffectMutating SideEffect = "mutating"
	// SideEffectFatal tools can do irreversible damage when misused, such as
	// arbitrary command execution.
	SideEffectFatal SideEffect = "fatal-on-misuse"
)

// ToolExecutor runs a tool against the execution environment. The context
// carries cancellation for the whole tool round.
type ToolExecutor func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error)

// ConflictKeyFunc derives a serialization key from tool arguments. Calls in
// the same round that share a non-empty key execute one at a time.
type ConflictKeyFunc func(arguments json.RawMessage) string

// RegisteredTool pairs a tool definition with its execution metadata.
type RegisteredTool struct {
	Definition modelwire.ToolDefinition
	Effect     SideEffect
	// Retryable marks the tool safe to re-execute with identical arguments.
	Retryable bool
	// FatalOnFailure escalates an execution error to end the whole turn
	// instead of surfacing it to the model as an error result.
	FatalOnFailure bool
	ConflictKey    ConflictKeyFunc
	Executor       ToolExecutor
}

// Registry is the lookup surface the dispatcher and orchestrator need.
type Registry interface {
	Definitions() []modelwire.ToolDefinition
	Lookup(name string) *RegisteredTool
}

// ToolRegistry is the concrete Registry. Registration order is preserved so
// the tool catalog sent to the model is deterministic.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool. Tools without an explicit side-effect
// class default to mutating, the cautious middle ground.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	if tool.Effect == "" {
		tool.Effect = SideEffectMutating
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &tool
}

// Unregister removes a tool.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup returns a registered tool by name, or nil.
func (r *ToolRegistry) Lookup(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []modelwire.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]modelwire.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// validateArguments checks the raw arguments against the tool definition:
// they must be a JSON object carrying every required parameter.
func validateArguments(def modelwire.ToolDefinition, raw json.RawMessage) error {
	args, err := ParseToolArguments(raw)
	if err != nil {
		return err
	}
	required, ok := def.Parameters["required"]
	if !ok {
		return nil
	}
	var names []string
	switch typed := required.(type) {
	case []string:
		names = typed
	case []interface{}:
		for _, v := range typed {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	for _, name := range names {
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	return nil
}

// ParseToolArguments unmarshals tool call arguments into a map. Empty
// arguments parse as an empty object.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument from parsed tool arguments.
func GetBoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// StringArgKey returns a ConflictKeyFunc that keys on one string argument,
// typically a file path.
func StringArgKey(name string) ConflictKeyFunc {
	return func(raw json.RawMessage) string {
		args, err := ParseToolArguments(raw)
		if err != nil {
			return ""
		}
		s, _ := GetStringArg(args, name)
		return s
	}
}
