package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/term-agent/internal/llm"
)

// ReadFileTool implements the read_file tool.
type ReadFileTool struct {
	limits OutputLimits
}

// NewReadFileTool creates a new ReadFileTool.
func NewReadFileTool(limits OutputLimits) *ReadFileTool {
	return &ReadFileTool{limits: limits}
}

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read file contents. Returns line-numbered output. Use offset/limit for pagination.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute or relative path to the file to read",
				},
				"offset": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"description": "Number of lines to skip (default: 0)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of lines to return",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Preview(args json.RawMessage) string {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Path == "" {
		return ""
	}
	switch {
	case a.Offset > 0 && a.Limit > 0:
		return fmt.Sprintf("%s:%d-%d", a.Path, a.Offset+1, a.Offset+a.Limit)
	case a.Offset > 0:
		return fmt.Sprintf("%s:%d-", a.Path, a.Offset+1)
	case a.Limit > 0:
		return fmt.Sprintf("%s:1-%d", a.Path, a.Limit)
	}
	return a.Path
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ReadFileArgs
	warning, err := decodeArgs(args, &a, "path", "offset", "limit")
	if err != nil {
		return "", err
	}
	if a.Path == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}

	lines, err := textLines(a.Path)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return warning + "File is empty.", nil
	}
	if a.Offset >= len(lines) {
		return "", NewToolErrorf(ErrInvalidParams, "offset %d exceeds file length %d", a.Offset, len(lines))
	}

	window := lines[a.Offset:]
	if a.Limit > 0 && a.Limit < len(window) {
		window = window[:a.Limit]
	}
	capped := t.limits.MaxLines > 0 && len(window) > t.limits.MaxLines
	if capped {
		window = window[:t.limits.MaxLines]
	}

	var b strings.Builder
	b.WriteString(warning)
	for i, line := range window {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", a.Offset+i+1, line)
	}
	if capped {
		fmt.Fprintf(&b, "\n\n[Output truncated. Total lines: %d. Use offset/limit for pagination.]", len(lines))
	}
	return b.String(), nil
}
