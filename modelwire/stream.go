package modelwire

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// toolCallAccum assembles a tool call from start/delta/end events.
type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

// Collect drains a normalized event stream into a Response. It returns when
// the stream finishes, emits an error event, or ctx is cancelled. The stream
// is single-pass: after Collect returns, the channel is exhausted or
// abandoned.
func Collect(ctx context.Context, events <-chan StreamEvent) (*Response, error) {
	var text strings.Builder
	var reasoning strings.Builder
	var calls []*toolCallAccum
	callIndex := map[string]*toolCallAccum{}
	usage := Usage{}
	finish := FinishReason{Reason: "stop"}

	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{WireError: WireError{Message: "stream collection cancelled", Cause: ctx.Err()}}
		case ev, ok := <-events:
			if !ok {
				return assemble(&text, &reasoning, calls, usage, finish), nil
			}
			switch ev.Type {
			case TextDelta:
				text.WriteString(ev.Delta)
			case ReasoningDelta:
				reasoning.WriteString(ev.Delta)
			case ToolCallStart:
				acc := &toolCallAccum{id: ev.ToolCallID, name: ev.ToolName}
				if acc.id == "" {
					acc.id = "call_" + uuid.New().String()[:8]
				}
				calls = append(calls, acc)
				callIndex[acc.id] = acc
			case ToolCallDelta:
				if acc, ok := callIndex[ev.ToolCallID]; ok {
					acc.args.WriteString(ev.Delta)
				}
			case ToolCallEnd:
				// Assembly happens at finish; nothing to do per call.
			case UsageEvent:
				if ev.Usage != nil {
					usage = usage.Add(*ev.Usage)
				}
			case StreamFinish:
				if ev.FinishReason != nil {
					finish = *ev.FinishReason
				}
				if ev.Usage != nil {
					usage = usage.Add(*ev.Usage)
				}
				return assemble(&text, &reasoning, calls, usage, finish), nil
			case StreamError:
				return nil, ev.Err
			}
		}
	}
}

func assemble(text, reasoning *strings.Builder, calls []*toolCallAccum, usage Usage, finish FinishReason) *Response {
	var parts []ContentPart
	if reasoning.Len() > 0 {
		parts = append(parts, ThinkingPart(reasoning.String(), ""))
	}
	if text.Len() > 0 {
		parts = append(parts, TextPart(text.String()))
	}
	for _, acc := range calls {
		args := json.RawMessage(acc.args.String())
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		parts = append(parts, ToolCallPart(acc.id, acc.name, args))
	}
	if len(parts) == 0 {
		parts = []ContentPart{TextPart("")}
	}
	if len(calls) > 0 && finish.Reason == "stop" {
		finish = FinishReason{Reason: "tool_calls", Raw: finish.Raw}
	}

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: finish,
		Usage:        usage,
	}
}
