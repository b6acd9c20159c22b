package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/oakrind/loom/modelwire"
)

// Shell timeout bounds.
const (
	DefaultCommandTimeout = 10 * time.Second
	MaxCommandTimeout     = 10 * time.Minute
)

// RegisterCoreTools registers the built-in tool set: read_file, write_file,
// edit_file, shell, grep, and glob. File mutations carry the target path as
// their conflict key so parallel edits of one file serialize.
func RegisterCoreTools(reg *ToolRegistry) {
	registerReadFile(reg)
	registerWriteFile(reg)
	registerEditFile(reg)
	registerShell(reg)
	registerGrep(reg)
	registerGlob(reg)
}

func registerReadFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "read_file",
			Description: "Read a file from the filesystem. Returns line-numbered content.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file to read.",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "1-based line number to start reading from.",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of lines to read. Default: 2000.",
					},
				},
				"required": []string{"file_path"},
			},
		},
		Effect:    SideEffectReadOnly,
		Retryable: true,
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			filePath, ok := GetStringArg(args, "file_path")
			if !ok || filePath == "" {
				return "", fmt.Errorf("file_path is required")
			}
			offset, _ := GetIntArg(args, "offset")
			limit, _ := GetIntArg(args, "limit")
			if limit == 0 {
				limit = 2000
			}
			return env.ReadFile(filePath, offset, limit)
		},
	})
}

func registerWriteFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file. Creates the file and parent directories if needed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to write to.",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "The full file content to write.",
					},
				},
				"required": []string{"file_path", "content"},
			},
		},
		Effect:      SideEffectMutating,
		ConflictKey: StringArgKey("file_path"),
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			filePath, ok := GetStringArg(args, "file_path")
			if !ok || filePath == "" {
				return "", fmt.Errorf("file_path is required")
			}
			content, ok := GetStringArg(args, "content")
			if !ok {
				return "", fmt.Errorf("content is required")
			}
			if err := env.WriteFile(filePath, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), filePath), nil
		},
	})
}

func registerEditFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "edit_file",
			Description: "Replace an exact string occurrence in a file. The old_string must be unique unless replace_all is true.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file to edit.",
					},
					"old_string": map[string]interface{}{
						"type":        "string",
						"description": "Exact text to find in the file.",
					},
					"new_string": map[string]interface{}{
						"type":        "string",
						"description": "Replacement text.",
					},
					"replace_all": map[string]interface{}{
						"type":        "boolean",
						"description": "Replace all occurrences. Default: false.",
					},
				},
				"required": []string{"file_path", "old_string", "new_string"},
			},
		},
		Effect:      SideEffectMutating,
		ConflictKey: StringArgKey("file_path"),
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			filePath, ok := GetStringArg(args, "file_path")
			if !ok || filePath == "" {
				return "", fmt.Errorf("file_path is required")
			}
			oldString, ok := GetStringArg(args, "old_string")
			if !ok || oldString == "" {
				return "", fmt.Errorf("old_string is required")
			}
			newString, _ := GetStringArg(args, "new_string")
			replaceAll, _ := GetBoolArg(args, "replace_all")

			content, err := env.ReadFileRaw(filePath)
			if err != nil {
				return "", fmt.Errorf("cannot read %s: %w", filePath, err)
			}

			count := strings.Count(content, oldString)
			if count == 0 {
				return "", fmt.Errorf("old_string not found in %s", filePath)
			}
			if count > 1 && !replaceAll {
				return "", fmt.Errorf("old_string found %d times in %s; provide more context to make it unique, or set replace_all=true", count, filePath)
			}

			var updated string
			replacements := 1
			if replaceAll {
				updated = strings.ReplaceAll(content, oldString, newString)
				replacements = count
			} else {
				updated = strings.Replace(content, oldString, newString, 1)
			}
			if err := env.WriteFile(filePath, updated); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", replacements, filePath), nil
		},
	})
}

// shellConflictKey serializes shell commands that start with the same
// program. A command that fails to tokenize keys on its raw text.
func shellConflictKey(arguments json.RawMessage) string {
	args, err := ParseToolArguments(arguments)
	if err != nil {
		return ""
	}
	command, _ := GetStringArg(args, "command")
	if command == "" {
		return ""
	}
	tokens, err := shellwords.Parse(command)
	if err != nil || len(tokens) == 0 {
		return command
	}
	return tokens[0]
}

func registerShell(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "shell",
			Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The command to run.",
					},
					"timeout_ms": map[string]interface{}{
						"type":        "integer",
						"description": "Override the default command timeout in milliseconds.",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "Human-readable description of what this command does.",
					},
				},
				"required": []string{"command"},
			},
		},
		Effect:      SideEffectFatal,
		ConflictKey: shellConflictKey,
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}
			timeout := DefaultCommandTimeout
			if timeoutMs, ok := GetIntArg(args, "timeout_ms"); ok && timeoutMs > 0 {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			if timeout > MaxCommandTimeout {
				timeout = MaxCommandTimeout
			}

			result, err := env.ExecCommand(ctx, command, timeout, "", nil)
			if err != nil {
				return "", err
			}

			var sb strings.Builder
			sb.WriteString(result.Output())
			if result.TimedOut {
				fmt.Fprintf(&sb, "\n\n[ERROR: Command timed out after %s. Partial output is shown above. "+
					"Retry with a longer timeout via the timeout_ms parameter.]", timeout)
			}
			if result.ExitCode != 0 && !result.TimedOut {
				fmt.Fprintf(&sb, "\n\n[Exit code: %d]", result.ExitCode)
			}
			return sb.String(), nil
		},
	})
}

func registerGrep(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "grep",
			Description: "Search file contents using regex patterns. Returns matching lines with file paths and line numbers.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex pattern to search for.",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Directory or file to search. Default: working directory.",
					},
					"glob_filter": map[string]interface{}{
						"type":        "string",
						"description": "File pattern filter (e.g., \"*.go\").",
					},
					"case_insensitive": map[string]interface{}{
						"type":        "boolean",
						"description": "Case insensitive search. Default: false.",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results. Default: 100.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Effect:    SideEffectReadOnly,
		Retryable: true,
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			path, _ := GetStringArg(args, "path")
			globFilter, _ := GetStringArg(args, "glob_filter")
			caseInsensitive, _ := GetBoolArg(args, "case_insensitive")
			maxResults, _ := GetIntArg(args, "max_results")
			if maxResults <= 0 {
				maxResults = 100
			}
			return env.Grep(ctx, pattern, path, GrepOptions{
				GlobFilter:      globFilter,
				CaseInsensitive: caseInsensitive,
				MaxResults:      maxResults,
			})
		},
	})
}

func registerGlob(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: modelwire.ToolDefinition{
			Name:        "glob",
			Description: "Find files matching a glob pattern. Returns matching file paths.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Glob pattern (e.g., \"**/*.go\").",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Base directory. Default: working directory.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Effect:    SideEffectReadOnly,
		Retryable: true,
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			path, _ := GetStringArg(args, "path")
			matches, err := env.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched the pattern.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	})
}
