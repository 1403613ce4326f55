package projectctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/tools"
	"github.com/samsaffron/term-agent/internal/transcript"
)

// DefaultShellOutputChars caps captured command output.
const DefaultShellOutputChars = 4000

// HookFileName is the capture file the shell hook writes in the state dir.
const HookFileName = "last_command.json"

// LastCommand is the record the shell hook leaves behind.
type LastCommand struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// ShellHook reads the last command captured by the shell integration.
type ShellHook struct {
	Path     string
	MaxChars int
}

// DefaultHookPath returns the capture file location in the state dir.
func DefaultHookPath() (string, error) {
	dir, err := config.GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, HookFileName), nil
}

func (h ShellHook) Name() string { return "shell_hook" }

func (h ShellHook) Turns(ctx context.Context) ([]transcript.Turn, error) {
	last, err := h.Read()
	if err != nil || last == nil {
		return nil, err
	}
	return []transcript.Turn{pinned(h.Name(), last.Render())}, nil
}

// Read loads the capture file. A missing file or one without a command
// yields nil.
func (h ShellHook) Read() (*LastCommand, error) {
	if h.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var last LastCommand
	if err := json.Unmarshal(data, &last); err != nil {
		return nil, fmt.Errorf("parse %s: %w", h.Path, err)
	}
	if strings.TrimSpace(last.Command) == "" {
		return nil, nil
	}
	limit := h.MaxChars
	if limit <= 0 {
		limit = DefaultShellOutputChars
	}
	last.Output = tools.TruncateHeadTail(strings.TrimRight(ansi.Strip(last.Output), "\n"), limit)
	return &last, nil
}

// Render formats the command for the model.
func (c LastCommand) Render() string {
	var b strings.Builder
	b.WriteString("# Last shell command\n\n")
	fmt.Fprintf(&b, "$ %s\n", c.Command)
	fmt.Fprintf(&b, "exit code: %d\n", c.ExitCode)
	if c.Output != "" {
		b.WriteString("\n```\n")
		b.WriteString(c.Output)
		b.WriteString("\n```\n")
	}
	return b.String()
}
