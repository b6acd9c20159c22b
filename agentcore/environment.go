package agentcore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// GrepOptions configures content search behavior.
type GrepOptions struct {
	GlobFilter      string `json:"glob_filter,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

// ExecutionEnvironment abstracts where tool operations run, so the same
// orchestrator can drive a local checkout, a container, or a remote host.
type ExecutionEnvironment interface {
	ReadFile(path string, offset, limit int) (string, error)
	ReadFileRaw(path string) (string, error)
	WriteFile(path string, content string) error
	FileExists(path string) bool

	ExecCommand(ctx context.Context, command string, timeout time.Duration, workingDir string, envVars map[string]string) (*ExecResult, error)

	Grep(ctx context.Context, pattern, path string, options GrepOptions) (string, error)
	Glob(pattern, path string) ([]string, error)

	WorkingDirectory() string
	Platform() string
}

// sensitiveEnvSuffixes are case-insensitive suffixes for environment
// variables excluded from spawned commands.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// alwaysAllowedEnv passes through regardless of suffix filtering.
var alwaysAllowedEnv = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func filteredEnviron() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if alwaysAllowedEnv[name] || !isSensitiveEnvVar(name) {
			out = append(out, kv)
		}
	}
	return out
}

// LocalEnvironment runs tools on the local machine rooted at a working
// directory. Relative tool paths resolve against that root.
type LocalEnvironment struct {
	workingDir string
	// killGrace is how long a cancelled command gets between SIGTERM and
	// SIGKILL.
	killGrace time.Duration
}

// NewLocalEnvironment creates a local execution environment. An empty
// working directory means the process working directory.
func NewLocalEnvironment(workingDir string) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalEnvironment{
		workingDir: workingDir,
		killGrace:  5 * time.Second,
	}
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalEnvironment) Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func (e *LocalEnvironment) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

// ReadFileRaw returns file content exactly as stored.
func (e *LocalEnvironment) ReadFileRaw(path string) (string, error) {
	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// ReadFile returns line-numbered content. Offset is a 1-based starting line;
// limit caps the number of lines returned. Zero values mean the whole file.
func (e *LocalEnvironment) ReadFile(path string, offset, limit int) (string, error) {
	raw, err := e.ReadFileRaw(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(raw, "\n")

	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

func (e *LocalEnvironment) WriteFile(path string, content string) error {
	resolved := e.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("write file: create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (e *LocalEnvironment) FileExists(path string) bool {
	_, err := os.Stat(e.resolvePath(path))
	return err == nil
}

// ExecCommand runs a shell command. On timeout or cancellation the process
// group gets SIGTERM, then SIGKILL after the grace period.
func (e *LocalEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration, workingDir string, envVars map[string]string) (*ExecResult, error) {
	if workingDir == "" {
		workingDir = e.workingDir
	} else {
		workingDir = e.resolvePath(workingDir)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = workingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = e.killGrace
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Signal the whole group so shell children die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	env := filteredEnviron()
	for k, v := range envVars {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			result.TimedOut = ctx.Err() == context.DeadlineExceeded
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
			} else {
				return nil, fmt.Errorf("exec command: %w", err)
			}
		}
	}
	return result, nil
}

// Grep shells out to ripgrep when available and falls back to grep.
func (e *LocalEnvironment) Grep(ctx context.Context, pattern, path string, options GrepOptions) (string, error) {
	if path == "" {
		path = e.workingDir
	} else {
		path = e.resolvePath(path)
	}

	rgPath, err := exec.LookPath("rg")
	if err != nil {
		return e.grepFallback(ctx, pattern, path, options)
	}

	args := []string{pattern, path, "--line-number", "--no-heading"}
	if options.CaseInsensitive {
		args = append(args, "-i")
	}
	if options.GlobFilter != "" {
		args = append(args, "--glob", options.GlobFilter)
	}
	if options.MaxResults > 0 {
		args = append(args, "--max-count", fmt.Sprintf("%d", options.MaxResults))
	}

	cmd := exec.CommandContext(ctx, rgPath, args...)
	cmd.Dir = e.workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // exit 1 means no matches
	return stdout.String(), nil
}

func (e *LocalEnvironment) grepFallback(ctx context.Context, pattern, path string, options GrepOptions) (string, error) {
	args := []string{"-rn", pattern, path}
	if options.CaseInsensitive {
		args = append([]string{"-i"}, args...)
	}
	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = e.workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run()
	return stdout.String(), nil
}

// Glob matches files under path and returns them relative to the working
// directory when possible.
func (e *LocalEnvironment) Glob(pattern, path string) ([]string, error) {
	if path == "" {
		path = e.workingDir
	} else {
		path = e.resolvePath(path)
	}
	matches, err := filepath.Glob(filepath.Join(path, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		if rel, err := filepath.Rel(e.workingDir, m); err == nil {
			out[i] = rel
		} else {
			out[i] = m
		}
	}
	return out, nil
}
