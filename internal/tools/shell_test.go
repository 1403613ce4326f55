package tools

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/term-agent/internal/toolcall"
)

func newShell(t *testing.T, mutate func(*ToolConfig)) *ShellTool {
	t.Helper()
	cfg := DefaultToolConfig()
	cfg.ShellGrace = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	tool, err := NewShellTool(cfg)
	if err != nil {
		t.Fatalf("NewShellTool: %v", err)
	}
	return tool
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestShellTool_Spec(t *testing.T) {
	tool := newShell(t, func(c *ToolConfig) { c.ShellAllow = []string{"go test *"} })
	spec := tool.Spec()

	if spec.Name != ShellToolName {
		t.Errorf("expected name %q, got %q", ShellToolName, spec.Name)
	}
	if !strings.Contains(spec.Description, "go test *") {
		t.Errorf("description should list allowed commands: %s", spec.Description)
	}
	props, ok := spec.Schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("schema should have properties")
	}
	for _, p := range []string{"command", "timeout_seconds"} {
		if _, ok := props[p]; !ok {
			t.Errorf("schema should have %s property", p)
		}
	}
}

func TestShellTool_Preview(t *testing.T) {
	tool := newShell(t, nil)

	tests := []struct {
		name     string
		args     json.RawMessage
		expected string
	}{
		{"short command", mustMarshalShellArgs(ShellArgs{Command: "echo hello"}), "echo hello"},
		{
			"long command is truncated",
			mustMarshalShellArgs(ShellArgs{Command: "echo this is a very long command that exceeds fifty characters limit here"}),
			"echo this is a very long command that exceeds f...",
		},
		{"empty command", mustMarshalShellArgs(ShellArgs{Command: ""}), ""},
		{"invalid JSON", json.RawMessage(`{invalid}`), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tool.Preview(tt.args); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestShellTool_Execute(t *testing.T) {
	skipOnWindows(t)
	tool := newShell(t, nil)

	tests := []struct {
		name     string
		args     json.RawMessage
		wantOut  string
		wantExit string
		wantErr  string
	}{
		{
			name:     "successful command",
			args:     mustMarshalShellArgs(ShellArgs{Command: "echo hello"}),
			wantOut:  "stdout:\nhello",
			wantExit: "exit_code: 0",
		},
		{
			name:     "command with stderr",
			args:     mustMarshalShellArgs(ShellArgs{Command: "echo err >&2"}),
			wantOut:  "stderr:\nerr",
			wantExit: "exit_code: 0",
		},
		{
			name:     "non-zero exit code",
			args:     mustMarshalShellArgs(ShellArgs{Command: "exit 42"}),
			wantExit: "exit_code: 42",
		},
		{
			name:    "missing command param",
			args:    mustMarshalShellArgs(ShellArgs{Command: ""}),
			wantErr: "command is required",
		},
		{
			name:    "invalid JSON args",
			args:    json.RawMessage(`{invalid}`),
			wantErr: string(ErrInvalidParams),
		},
		{
			name:     "unknown parameter warns",
			args:     json.RawMessage(`{"command":"true","cwd":"/"}`),
			wantOut:  "Unknown parameter 'cwd' was ignored",
			wantExit: "exit_code: 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := tool.Execute(context.Background(), tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if tt.wantOut != "" && !strings.Contains(output, tt.wantOut) {
				t.Errorf("expected output containing %q, got: %s", tt.wantOut, output)
			}
			if tt.wantExit != "" && !strings.Contains(output, tt.wantExit) {
				t.Errorf("expected %q in output, got: %s", tt.wantExit, output)
			}
		})
	}
}

func TestShellTool_AllowList(t *testing.T) {
	skipOnWindows(t)
	tool := newShell(t, func(c *ToolConfig) { c.ShellAllow = []string{"echo *", "ls"} })

	if _, err := tool.Execute(context.Background(), mustMarshalShellArgs(ShellArgs{Command: "echo fine"})); err != nil {
		t.Fatalf("allowed command failed: %v", err)
	}

	_, err := tool.Execute(context.Background(), mustMarshalShellArgs(ShellArgs{Command: "rm -rf /tmp/nothing"}))
	var inv *toolcall.InvocationError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if !strings.Contains(inv.Reason, "not allowed") {
		t.Errorf("reason = %q", inv.Reason)
	}
}

func TestShellTool_InvalidPattern(t *testing.T) {
	cfg := DefaultToolConfig()
	cfg.ShellAllow = []string{"[unclosed"}
	if _, err := NewShellTool(cfg); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestShellTool_Timeout(t *testing.T) {
	skipOnWindows(t)
	tool := newShell(t, nil)
	start := time.Now()
	output, err := tool.Execute(context.Background(), mustMarshalShellArgs(ShellArgs{
		Command:        "sleep 10",
		TimeoutSeconds: 1,
	}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output, "[Command timed out]") {
		t.Errorf("expected '[Command timed out]' in output, got: %s", output)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestShellTool_CancelKillsGroup(t *testing.T) {
	skipOnWindows(t)
	tool := newShell(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	// The shell ignores SIGTERM so only the SIGKILL after the grace period
	// can end it.
	output, err := tool.Execute(ctx, mustMarshalShellArgs(ShellArgs{Command: "trap '' TERM; sleep 30"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !strings.Contains(output, "[Command cancelled]") {
		t.Errorf("output = %q", output)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %s, process group not killed", elapsed)
	}
}

func TestShellTool_OutputTruncation(t *testing.T) {
	skipOnWindows(t)
	tool := newShell(t, func(c *ToolConfig) { c.Limits.MaxChars = 40 })

	output, err := tool.Execute(context.Background(), mustMarshalShellArgs(ShellArgs{
		Command: "printf 'a%.0s' $(seq 1 200)",
	}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output, "characters truncated") {
		t.Errorf("expected truncation marker, got: %s", output)
	}
	if !strings.HasPrefix(output, "stdout:") || !strings.HasSuffix(output, "exit_code: 0") {
		t.Errorf("head and tail should survive truncation: %q", output)
	}
}

func mustMarshalShellArgs(args ShellArgs) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return data
}
