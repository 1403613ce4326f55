package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samsaffron/term-agent/internal/llm"
)

// ListFilesTool implements the list_files tool.
type ListFilesTool struct {
	limits OutputLimits
}

// NewListFilesTool creates a new ListFilesTool.
func NewListFilesTool(limits OutputLimits) *ListFilesTool {
	return &ListFilesTool{limits: limits}
}

// ListFilesArgs are the arguments for list_files.
type ListFilesArgs struct {
	Path string `json:"path"`
}

func (t *ListFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ListFilesToolName,
		Description: "List the entries of a directory (not recursive). Directories end with '/'.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list (defaults to current directory)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListFilesTool) Preview(args json.RawMessage) string {
	var a ListFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	if a.Path == "" {
		return "."
	}
	return a.Path
}

func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ListFilesArgs
	warning, err := decodeArgs(args, &a, "path")
	if err != nil {
		return "", err
	}
	dir := a.Path
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, dir)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "list error: %v", err)
	}
	if len(entries) == 0 {
		return warning + "Directory is empty.", nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if t.limits.MaxResults > 0 && len(names) > t.limits.MaxResults {
		names = names[:t.limits.MaxResults]
		truncated = true
	}
	out := strings.Join(names, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n[Results truncated at %d entries]", t.limits.MaxResults)
	}
	return warning + out, nil
}
