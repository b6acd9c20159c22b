package agentcore

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/oakrind/loom/modelwire"
)

func assistantWithCalls(text string, calls ...modelwire.ToolCallData) modelwire.Message {
	parts := []modelwire.ContentPart{}
	if text != "" {
		parts = append(parts, modelwire.TextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, modelwire.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return modelwire.Message{Role: modelwire.RoleAssistant, Content: parts}
}

func call(id, name, args string) modelwire.ToolCallData {
	return modelwire.ToolCallData{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestConversationAppendValidSequence(t *testing.T) {
	conv := NewConversation("system", nil)

	steps := []modelwire.Message{
		modelwire.UserMessage("read the config"),
		assistantWithCalls("checking", call("call_1", "read_file", `{"file_path":"cfg.yaml"}`)),
		modelwire.ToolResultMessage("call_1", "contents", false),
		modelwire.AssistantMessage("the config looks fine"),
	}
	for i, msg := range steps {
		if err := conv.Append(msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := conv.ValidateAlternation(); err != nil {
		t.Errorf("valid sequence rejected: %v", err)
	}
	if conv.Len() != 4 {
		t.Errorf("expected 4 messages, got %d", conv.Len())
	}
}

func TestConversationRejectsAssistantFirst(t *testing.T) {
	conv := NewConversation("", nil)
	err := conv.Append(modelwire.AssistantMessage("hello"))
	var ae *AlternationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AlternationError, got %v", err)
	}
}

func TestConversationRejectsSystemInHistory(t *testing.T) {
	conv := NewConversation("", nil)
	if err := conv.Append(modelwire.SystemMessage("nope")); err == nil {
		t.Fatal("system messages must not enter the history")
	}
}

func TestConversationRejectsUnansweredToolCalls(t *testing.T) {
	conv := NewConversation("", nil)
	mustAppend(t, conv, modelwire.UserMessage("go"))
	mustAppend(t, conv, assistantWithCalls("", call("call_1", "shell", `{"command":"ls"}`)))

	// A user message cannot land while call_1 is unresolved.
	if err := conv.Append(modelwire.UserMessage("wait")); err == nil {
		t.Error("expected rejection of user message before tool results")
	}
	// Neither can another assistant message.
	if err := conv.Append(modelwire.AssistantMessage("done")); err == nil {
		t.Error("expected rejection of assistant message before tool results")
	}
	// A result for an unknown call id is also invalid.
	if err := conv.Append(modelwire.ToolResultMessage("call_9", "x", false)); err == nil {
		t.Error("expected rejection of result for unknown call")
	}

	// The real result unblocks everything.
	mustAppend(t, conv, modelwire.ToolResultMessage("call_1", "ok", false))
	mustAppend(t, conv, modelwire.AssistantMessage("done"))
}

func TestConversationMultipleToolResults(t *testing.T) {
	conv := NewConversation("", nil)
	mustAppend(t, conv, modelwire.UserMessage("go"))
	mustAppend(t, conv, assistantWithCalls("",
		call("call_1", "read_file", `{"file_path":"a.go"}`),
		call("call_2", "read_file", `{"file_path":"b.go"}`),
	))
	mustAppend(t, conv, modelwire.ToolResultMessage("call_2", "b", false))
	mustAppend(t, conv, modelwire.ToolResultMessage("call_1", "a", false))
	if err := conv.ValidateAlternation(); err != nil {
		t.Errorf("results in any order should validate: %v", err)
	}
}

func TestConversationConsecutiveUsersAllowed(t *testing.T) {
	// Steering injects extra user messages between rounds.
	conv := NewConversation("", nil)
	mustAppend(t, conv, modelwire.UserMessage("first"))
	mustAppend(t, conv, modelwire.AssistantMessage("ack"))
	mustAppend(t, conv, modelwire.UserMessage("also this"))
	mustAppend(t, conv, modelwire.UserMessage("and this"))
	if err := conv.ValidateAlternation(); err != nil {
		t.Errorf("consecutive user messages should validate: %v", err)
	}
}

func TestConversationReplaceRange(t *testing.T) {
	conv := NewConversation("", nil)
	mustAppend(t, conv, modelwire.UserMessage("one"))
	mustAppend(t, conv, modelwire.AssistantMessage("two"))
	mustAppend(t, conv, modelwire.UserMessage("three"))
	mustAppend(t, conv, modelwire.AssistantMessage("four"))

	summary := modelwire.UserMessage("[summary]")
	if err := conv.replaceRange(0, 2, summary); err != nil {
		t.Fatalf("replaceRange: %v", err)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after replacement, got %d", len(msgs))
	}
	if msgs[0].TextContent() != "[summary]" {
		t.Errorf("expected summary at index 0, got %q", msgs[0].TextContent())
	}
	cps := conv.Checkpoints()
	if len(cps) != 1 || cps[0].SummaryIndex != 0 || cps[0].Covered != 2 {
		t.Errorf("unexpected checkpoint: %+v", cps)
	}
	if got := conv.compressStart(); got != 1 {
		t.Errorf("next compression must start after the summary, got %d", got)
	}
}

func TestConversationReplaceRangeRollsBackOnInvalidResult(t *testing.T) {
	conv := NewConversation("", nil)
	mustAppend(t, conv, modelwire.UserMessage("go"))
	mustAppend(t, conv, assistantWithCalls("", call("call_1", "shell", `{"command":"ls"}`)))
	mustAppend(t, conv, modelwire.ToolResultMessage("call_1", "ok", false))

	// Cutting between the assistant message and its tool result would strand
	// the result.
	err := conv.replaceRange(0, 2, modelwire.UserMessage("[summary]"))
	if err == nil {
		t.Fatal("expected replacement to fail validation")
	}
	if conv.Len() != 3 {
		t.Errorf("history must be rolled back, got %d messages", conv.Len())
	}
	if len(conv.Checkpoints()) != 0 {
		t.Error("no checkpoint should be recorded for a failed replacement")
	}
}

func TestConversationEstimateGrowsWithTools(t *testing.T) {
	conv := NewConversation("system prompt", nil)
	mustAppend(t, conv, modelwire.UserMessage("hello there"))

	bare := conv.EstimateWith(nil)
	tools := []modelwire.ToolDefinition{
		{Name: "read_file", Description: "Read a file.", Parameters: map[string]interface{}{"type": "object"}},
	}
	if withTools := conv.EstimateWith(tools); withTools <= bare {
		t.Errorf("tool catalog should add to the estimate: %d vs %d", withTools, bare)
	}
}

func mustAppend(t *testing.T, conv *Conversation, msg modelwire.Message) {
	t.Helper()
	if err := conv.Append(msg); err != nil {
		t.Fatalf("append %s: %v", msg.Role, err)
	}
}
