package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/toolcall"
)

// ShellTool implements the shell tool.
type ShellTool struct {
	allow   *shellMatcher
	timeout time.Duration
	grace   time.Duration
	limits  OutputLimits
}

// NewShellTool creates a new ShellTool. The allow-list must already be valid
// (see ToolConfig.Validate).
func NewShellTool(cfg ToolConfig) (*ShellTool, error) {
	allow, err := compileShellPatterns(cfg.ShellAllow)
	if err != nil {
		return nil, err
	}
	return &ShellTool{
		allow:   allow,
		timeout: cfg.ShellTimeout,
		grace:   cfg.ShellGrace,
		limits:  cfg.Limits,
	}, nil
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

const maxShellTimeout = 10 * time.Minute

func (t *ShellTool) Spec() llm.ToolSpec {
	desc := "Execute a shell command with sh -c. Returns stdout, stderr, and exit code."
	if t.allow != nil && len(t.allow.patterns) > 0 {
		desc += " Allowed commands: " + strings.Join(t.allow.patterns, ", ")
	}
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: desc,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Command timeout in seconds",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Preview(args json.RawMessage) string {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return truncateCommand(a.Command)
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ShellArgs
	warning, err := decodeArgs(args, &a, "command", "timeout_seconds")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Command) == "" {
		return "", NewToolError(ErrInvalidParams, "command is required")
	}
	if !t.allow.Allows(a.Command) {
		return "", &toolcall.InvocationError{
			Tool:   ShellToolName,
			Reason: fmt.Sprintf("command not allowed: %s", truncateCommand(a.Command)),
		}
	}

	timeout := t.timeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 || timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	result, err := t.run(ctx, a.Command, timeout)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
	}
	out := warning + formatShellResult(result, t.limits)
	if result.Cancelled {
		return out, context.Cause(ctx)
	}
	return out, nil
}

// run starts sh -c in its own process group. When ctx ends or the timeout
// fires the group gets SIGTERM, then SIGKILL once the grace period passes.
func (t *ShellTool) run(ctx context.Context, command string, timeout time.Duration) (ShellResult, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir, _ = os.Getwd()
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ShellResult{}, err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		err       error
		timedOut  bool
		cancelled bool
	)
	select {
	case err = <-done:
	case <-timer.C:
		timedOut = true
		err = t.stop(cmd, done)
	case <-ctx.Done():
		cancelled = true
		err = t.stop(cmd, done)
	}

	result := ShellResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Cancelled: cancelled,
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case timedOut || cancelled:
		result.ExitCode = -1
	default:
		return result, err
	}
	return result, nil
}

// stop terminates the process group and waits for Wait to return.
func (t *ShellTool) stop(cmd *exec.Cmd, done <-chan error) error {
	_ = signalGroup(cmd, false)
	grace := t.grace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
	}
	_ = signalGroup(cmd, true)
	return <-done
}

// formatShellResult formats the shell result for the model.
func formatShellResult(result ShellResult, limits OutputLimits) string {
	var sb strings.Builder

	switch {
	case result.TimedOut:
		sb.WriteString("[Command timed out]\n\n")
	case result.Cancelled:
		sb.WriteString("[Command cancelled]\n\n")
	}

	if result.Stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if result.Stderr != "" {
		if result.Stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(result.Stderr)
		if !strings.HasSuffix(result.Stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)

	return TruncateHeadTail(sb.String(), limits.MaxChars)
}

// truncateCommand truncates a command for previews and error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
