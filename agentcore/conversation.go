package agentcore

import (
	"sync"
	"time"

	"github.com/oakrind/loom/modelwire"
	"github.com/oakrind/loom/tokenest"
)

// CompressionCheckpoint records one history compression. SummaryIndex is the
// position of the summary message in the current message slice; Covered is
// the number of original messages it replaced. Later compressions only ever
// touch messages after the most recent checkpoint's summary, so recorded
// indices stay stable.
type CompressionCheckpoint struct {
	SummaryIndex int       `json:"summary_index"`
	Covered      int       `json:"covered"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is the ordered message history for one agent session. The
// system instruction is carried separately and never occupies a slot in the
// message slice. All mutation goes through the orchestrating turn; role
// ordering is checked on every append.
type Conversation struct {
	system      string
	msgs        []modelwire.Message
	checkpoints []CompressionCheckpoint
	est         *tokenest.Estimator
	mu          sync.RWMutex
}

// NewConversation creates a Conversation with the given system instruction.
// A nil estimator gets a default one.
func NewConversation(system string, est *tokenest.Estimator) *Conversation {
	if est == nil {
		est = tokenest.New()
	}
	return &Conversation{system: system, est: est}
}

// System returns the system instruction.
func (c *Conversation) System() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system
}

// SetSystem replaces the system instruction.
func (c *Conversation) SetSystem(system string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = system
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// Messages returns a copy of the message history.
func (c *Conversation) Messages() []modelwire.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]modelwire.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Checkpoints returns a copy of the compression checkpoints, oldest first.
func (c *Conversation) Checkpoints() []CompressionCheckpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CompressionCheckpoint, len(c.checkpoints))
	copy(out, c.checkpoints)
	return out
}

// Append adds a message after checking that it lands in a valid position.
// System messages never enter the history.
func (c *Conversation) Append(msg modelwire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkPlacement(msg); err != nil {
		return err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

// checkPlacement validates msg against the tail of the history. Caller holds
// the lock.
func (c *Conversation) checkPlacement(msg modelwire.Message) error {
	idx := len(c.msgs)
	pending := c.pendingToolCalls()

	switch msg.Role {
	case modelwire.RoleSystem:
		return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "system instruction is not a history message"}
	case modelwire.RoleUser:
		if len(pending) > 0 {
			return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "tool calls from the previous assistant message are unresolved"}
		}
	case modelwire.RoleAssistant:
		if idx == 0 {
			return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "conversation must start with a user message"}
		}
		if len(pending) > 0 {
			return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "tool calls from the previous assistant message are unresolved"}
		}
		if c.msgs[idx-1].Role == modelwire.RoleAssistant {
			return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "consecutive assistant messages"}
		}
	case modelwire.RoleTool:
		if _, ok := pending[msg.ToolCallID]; !ok {
			return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "tool result does not answer a pending tool call"}
		}
	default:
		return &AlternationError{Index: idx, Role: string(msg.Role), Detail: "unknown role"}
	}
	return nil
}

// pendingToolCalls returns the tool call IDs from the most recent assistant
// message that have not yet received a tool result. Caller holds the lock.
func (c *Conversation) pendingToolCalls() map[string]struct{} {
	lastAssistant := -1
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Role == modelwire.RoleAssistant {
			lastAssistant = i
			break
		}
		if c.msgs[i].Role != modelwire.RoleTool {
			return nil
		}
	}
	if lastAssistant < 0 {
		return nil
	}

	pending := make(map[string]struct{})
	for _, call := range c.msgs[lastAssistant].ToolCalls() {
		pending[call.ID] = struct{}{}
	}
	for i := lastAssistant + 1; i < len(c.msgs); i++ {
		delete(pending, c.msgs[i].ToolCallID)
	}
	if len(pending) == 0 {
		return nil
	}
	return pending
}

// ValidateAlternation replays the ordering rules over the whole history.
// A trailing assistant message with unresolved tool calls is allowed: that
// is the in-flight state between proposal and settlement.
func (c *Conversation) ValidateAlternation() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending map[string]struct{}
	for i, m := range c.msgs {
		switch m.Role {
		case modelwire.RoleUser:
			if len(pending) > 0 {
				return &AlternationError{Index: i, Role: string(m.Role), Detail: "user message before pending tool calls were resolved"}
			}
		case modelwire.RoleAssistant:
			if i == 0 {
				return &AlternationError{Index: i, Role: string(m.Role), Detail: "conversation must start with a user message"}
			}
			if len(pending) > 0 {
				return &AlternationError{Index: i, Role: string(m.Role), Detail: "assistant message before pending tool calls were resolved"}
			}
			if c.msgs[i-1].Role == modelwire.RoleAssistant {
				return &AlternationError{Index: i, Role: string(m.Role), Detail: "consecutive assistant messages"}
			}
			pending = make(map[string]struct{})
			for _, call := range m.ToolCalls() {
				pending[call.ID] = struct{}{}
			}
		case modelwire.RoleTool:
			if _, ok := pending[m.ToolCallID]; !ok {
				return &AlternationError{Index: i, Role: string(m.Role), Detail: "tool result does not answer a pending tool call"}
			}
			delete(pending, m.ToolCallID)
		default:
			return &AlternationError{Index: i, Role: string(m.Role), Detail: "role not allowed in history"}
		}
	}
	return nil
}

// EstimateWith returns the token estimate for the full request this
// conversation would produce: system instruction, messages, and the tool
// catalog.
func (c *Conversation) EstimateWith(tools []modelwire.ToolDefinition) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.est.CountConversation(c.system, c.msgs, tools)
}

// compressStart returns the first index eligible for compression: zero, or
// one past the most recent checkpoint's summary message.
func (c *Conversation) compressStart() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.checkpoints) == 0 {
		return 0
	}
	return c.checkpoints[len(c.checkpoints)-1].SummaryIndex + 1
}

// replaceRange substitutes msgs[start:end) with the summary message and
// records a checkpoint. The resulting history must still satisfy the
// ordering rules or the replacement is rolled back.
func (c *Conversation) replaceRange(start, end int, summary modelwire.Message) error {
	c.mu.Lock()
	if start < 0 || end > len(c.msgs) || start >= end {
		c.mu.Unlock()
		return &AlternationError{Index: start, Role: string(summary.Role), Detail: "replacement range out of bounds"}
	}

	original := c.msgs
	replaced := make([]modelwire.Message, 0, len(original)-(end-start)+1)
	replaced = append(replaced, original[:start]...)
	replaced = append(replaced, summary)
	replaced = append(replaced, original[end:]...)
	c.msgs = replaced
	c.mu.Unlock()

	if err := c.ValidateAlternation(); err != nil {
		c.mu.Lock()
		c.msgs = original
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.checkpoints = append(c.checkpoints, CompressionCheckpoint{
		SummaryIndex: start,
		Covered:      end - start,
		CreatedAt:    time.Now(),
	})
	c.mu.Unlock()
	return nil
}
