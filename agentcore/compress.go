package agentcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/oakrind/loom/modelwire"
	"github.com/oakrind/loom/tokenest"
)

// Compression defaults.
const (
	DefaultCompressTriggerFraction = 0.8
	DefaultProtectedTailTurns      = 2
	summaryPreviewChars            = 120
)

// Summarizer condenses a span of messages into prose. Implementations
// usually call the model; a nil Summarizer falls back to a deterministic
// digest so compression never depends on a second request succeeding.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []modelwire.Message) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, msgs []modelwire.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, msgs []modelwire.Message) (string, error) {
	return f(ctx, msgs)
}

// Compressor folds old history into summary messages when the estimated
// request size crosses the trigger fraction of the context window. The most
// recent turns are never compressed, and spans already inside a prior
// checkpoint's summary are never revisited.
type Compressor struct {
	est             *tokenest.Estimator
	summarizer      Summarizer
	triggerFraction float64
	protectedTurns  int
}

// NewCompressor creates a Compressor. Zero values take the defaults; a nil
// summarizer selects the deterministic digest.
func NewCompressor(est *tokenest.Estimator, summarizer Summarizer, triggerFraction float64, protectedTurns int) *Compressor {
	if est == nil {
		est = tokenest.New()
	}
	if triggerFraction <= 0 || triggerFraction >= 1 {
		triggerFraction = DefaultCompressTriggerFraction
	}
	if protectedTurns <= 0 {
		protectedTurns = DefaultProtectedTailTurns
	}
	return &Compressor{
		est:             est,
		summarizer:      summarizer,
		triggerFraction: triggerFraction,
		protectedTurns:  protectedTurns,
	}
}

// Budget returns the token budget for a context window.
func (c *Compressor) Budget(contextWindow int) int {
	return int(float64(contextWindow) * c.triggerFraction)
}

// NeedsCompression reports whether the conversation's estimated request size
// exceeds the budget.
func (c *Compressor) NeedsCompression(conv *Conversation, tools []modelwire.ToolDefinition, contextWindow int) bool {
	return conv.EstimateWith(tools) > c.Budget(contextWindow)
}

// Compress folds the oldest eligible span into a summary message. It is a
// no-op under budget. A ContextOverflowError means nothing compressible
// remains (or compression did not help) and the turn cannot proceed.
func (c *Compressor) Compress(ctx context.Context, conv *Conversation, tools []modelwire.ToolDefinition, contextWindow int) error {
	budget := c.Budget(contextWindow)
	estimate := conv.EstimateWith(tools)
	if estimate <= budget {
		return nil
	}

	start := conv.compressStart()
	end := c.cutBoundary(conv)
	if end <= start {
		return &ContextOverflowError{Estimate: estimate, Budget: budget}
	}

	msgs := conv.Messages()
	span := msgs[start:end]
	text, err := c.summarize(ctx, span)
	if err != nil {
		text = digestMessages(span)
	}

	summary := modelwire.UserMessage("[Conversation summary replacing " +
		fmt.Sprintf("%d earlier messages]\n\n", len(span)) + text)
	if err := conv.replaceRange(start, end, summary); err != nil {
		return err
	}

	if after := conv.EstimateWith(tools); after > budget {
		return &ContextOverflowError{Estimate: after, Budget: budget}
	}
	return nil
}

func (c *Compressor) summarize(ctx context.Context, msgs []modelwire.Message) (string, error) {
	if c.summarizer == nil {
		return digestMessages(msgs), nil
	}
	return c.summarizer.Summarize(ctx, msgs)
}

// cutBoundary returns the end of the compressible span: the start of the
// protected tail, moved back to a user-message boundary so the remaining
// verbatim history still opens with a user turn.
func (c *Compressor) cutBoundary(conv *Conversation) int {
	msgs := conv.Messages()

	// Walk back over the last protectedTurns user messages.
	seen := 0
	boundary := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == modelwire.RoleUser {
			seen++
			if seen == c.protectedTurns {
				boundary = i
				break
			}
		}
	}
	return boundary
}

// digestMessages is the deterministic fallback summary: one line per
// message with role, tool names, and a text preview.
func digestMessages(msgs []modelwire.Message) string {
	var sb strings.Builder
	sb.WriteString("Condensed history digest:\n")
	for _, m := range msgs {
		switch m.Role {
		case modelwire.RoleUser:
			fmt.Fprintf(&sb, "- user: %s\n", preview(m.TextContent()))
		case modelwire.RoleAssistant:
			if calls := m.ToolCalls(); len(calls) > 0 {
				names := make([]string, len(calls))
				for i, call := range calls {
					names[i] = call.Name
				}
				fmt.Fprintf(&sb, "- assistant invoked %s: %s\n", strings.Join(names, ", "), preview(m.TextContent()))
			} else {
				fmt.Fprintf(&sb, "- assistant: %s\n", preview(m.TextContent()))
			}
		case modelwire.RoleTool:
			fmt.Fprintf(&sb, "- tool result for %s\n", m.ToolCallID)
		}
	}
	return sb.String()
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > summaryPreviewChars {
		return text[:summaryPreviewChars] + "..."
	}
	if text == "" {
		return "(no text)"
	}
	return text
}
