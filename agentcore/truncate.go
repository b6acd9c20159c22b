package agentcore

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized tool output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// defaultFallbackCharLimit applies to tools without an entry in the limit
// tables.
const defaultFallbackCharLimit = 30000

// DefaultToolCharLimits caps tool output size per tool before it enters the
// conversation.
var DefaultToolCharLimits = map[string]int{
	"read_file":   50000,
	"shell":       30000,
	"grep":        20000,
	"glob":        20000,
	"edit_file":   10000,
	"write_file":  1000,
	"spawn_agent": 20000,
}

// DefaultTruncationModes selects the cut shape per tool. Head/tail keeps both
// ends of the output; tail keeps only the end.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":   TruncateHeadTail,
	"shell":       TruncateHeadTail,
	"grep":        TruncateTail,
	"glob":        TruncateTail,
	"edit_file":   TruncateTail,
	"write_file":  TruncateTail,
	"spawn_agent": TruncateHeadTail,
}

// DefaultToolLineLimits applies line-count truncation after the character
// pass.
var DefaultToolLineLimits = map[string]int{
	"shell": 256,
	"grep":  200,
	"glob":  500,
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. "+
			"The full output is available in the event stream.]\n\n", removed) +
			output[len(output)-maxChars:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"The full output is available in the event stream. "+
			"If you need specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput runs the full pipeline for one tool's output: character
// truncation first (bounds pathological cases), then line truncation for
// readability. Caller-provided limit tables override the defaults per tool.
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		if maxChars, ok = DefaultToolCharLimits[toolName]; !ok {
			maxChars = defaultFallbackCharLimit
		}
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines := lineLimits[toolName]
	if maxLines == 0 {
		maxLines = DefaultToolLineLimits[toolName]
	}
	if maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
