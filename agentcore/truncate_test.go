package agentcore

import (
	"strings"
	"testing"
)

func TestTruncateOutputUnderLimitUnchanged(t *testing.T) {
	out := TruncateOutput("short output", 100, TruncateHeadTail)
	if out != "short output" {
		t.Errorf("output under the limit must pass through, got %q", out)
	}
}

func TestTruncateOutputHeadTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := TruncateOutput(input, 200, TruncateHeadTail)

	if !strings.HasPrefix(out, strings.Repeat("a", 100)) {
		t.Error("head of the output should be kept")
	}
	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail of the output should be kept")
	}
	if !strings.Contains(out, "truncated") {
		t.Error("truncation notice missing")
	}
}

func TestTruncateOutputTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 100)
	out := TruncateOutput(input, 100, TruncateTail)
	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail mode keeps the end of the output")
	}
	if strings.Contains(strings.TrimPrefix(out, "[WARNING"), "aaaa") {
		t.Error("tail mode drops the head")
	}
}

func TestTruncateLines(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("line\n")
	}
	out := TruncateLines(strings.TrimSuffix(sb.String(), "\n"), 10)
	if !strings.Contains(out, "lines omitted") {
		t.Error("line truncation notice missing")
	}
	if got := len(strings.Split(out, "\n")); got > 12 {
		t.Errorf("expected roughly 10 lines plus notice, got %d", got)
	}
}

func TestTruncateToolOutputUsesPerToolLimits(t *testing.T) {
	input := strings.Repeat("x", 5000)
	out := TruncateToolOutput(input, "write_file", nil, nil)
	if len(out) >= 5000 {
		t.Error("write_file output should be truncated to its small default limit")
	}

	custom := TruncateToolOutput(input, "write_file", map[string]int{"write_file": 10000}, nil)
	if custom != input {
		t.Error("caller-provided limits must override the defaults")
	}
}

func TestTruncateToolOutputAppliesLineLimits(t *testing.T) {
	input := strings.Repeat("line\n", 1000)
	out := TruncateToolOutput(input, "shell", nil, nil)
	if got := len(strings.Split(out, "\n")); got > 260 {
		t.Errorf("shell output should be capped near 256 lines, got %d", got)
	}
}
