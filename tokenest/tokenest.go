// Package tokenest estimates the token cost of conversations before they go
// on the wire. It uses the cl100k_base BPE encoding when available and falls
// back to a chars/4 heuristic, with an LRU cache of per-message counts so
// repeated full-conversation estimates only pay for new messages.
package tokenest

import (
	"crypto/sha256"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/oakrind/loom/modelwire"
)

const (
	// heuristicCharsPerToken approximates English prose and code.
	heuristicCharsPerToken = 4

	// perMessageOverhead covers role and framing tokens per message.
	perMessageOverhead = 4

	defaultCacheSize = 4096
)

// Estimator counts tokens for text, messages, and whole conversations.
// It is safe for concurrent use.
type Estimator struct {
	enc   *tiktoken.Tiktoken
	cache *lru.Cache[[32]byte, int]
}

// New creates an Estimator. Encoding load failures are not fatal: the
// estimator degrades to the chars/4 heuristic.
func New() *Estimator {
	return NewWithCacheSize(defaultCacheSize)
}

// NewWithCacheSize creates an Estimator with a specific message-count cache
// size.
func NewWithCacheSize(cacheSize int) *Estimator {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[[32]byte, int](cacheSize)

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Estimator{enc: enc, cache: cache}
}

// Count returns the token count for a plain string.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
}

// CountMessage returns the token count for one message, including framing
// overhead. Counts are memoized: messages are immutable once appended, so a
// content hash is a stable cache key.
func (e *Estimator) CountMessage(msg modelwire.Message) int {
	raw, err := json.Marshal(msg)
	if err != nil {
		return perMessageOverhead
	}
	key := sha256.Sum256(raw)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	total := perMessageOverhead
	for _, part := range msg.Content {
		switch part.Kind {
		case modelwire.ContentText:
			total += e.Count(part.Text)
		case modelwire.ContentThinking:
			if part.Thinking != nil {
				total += e.Count(part.Thinking.Text)
			}
		case modelwire.ContentToolCall:
			if part.ToolCall != nil {
				total += e.Count(part.ToolCall.Name)
				total += e.Count(string(part.ToolCall.Arguments))
			}
		case modelwire.ContentToolResult:
			if part.ToolResult != nil {
				total += e.Count(string(part.ToolResult.Content))
			}
		default:
			// Binary parts are charged by their serialized size.
			total += e.Count(part.Text)
		}
	}

	e.cache.Add(key, total)
	return total
}

// CountTools returns the token cost of the tool catalog sent with each
// request.
func (e *Estimator) CountTools(tools []modelwire.ToolDefinition) int {
	total := 0
	for _, def := range tools {
		total += e.Count(def.Name)
		total += e.Count(def.Description)
		if raw, err := json.Marshal(def.Parameters); err == nil {
			total += e.Count(string(raw))
		}
	}
	return total
}

// CountConversation estimates the full request cost: system instruction plus
// every message plus the pending tool catalog.
func (e *Estimator) CountConversation(system string, msgs []modelwire.Message, tools []modelwire.ToolDefinition) int {
	total := e.Count(system)
	for _, msg := range msgs {
		total += e.CountMessage(msg)
	}
	total += e.CountTools(tools)
	return total
}
