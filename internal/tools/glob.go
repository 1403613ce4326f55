package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/term-agent/internal/llm"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	limits OutputLimits
}

// NewGlobTool creates a new GlobTool.
func NewGlobTool(limits OutputLimits) *GlobTool {
	return &GlobTool{limits: limits}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Returns paths relative to the search directory, sorted.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern supporting ** for recursive matching, e.g., '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory for the search (defaults to current directory)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) Preview(args json.RawMessage) string {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a GlobArgs
	warning, err := decodeArgs(args, &a, "pattern", "path")
	if err != nil {
		return "", err
	}
	switch {
	case a.Pattern == "":
		return "", NewToolError(ErrInvalidParams, "pattern is required")
	case !doublestar.ValidatePattern(a.Pattern):
		return "", NewToolErrorf(ErrInvalidParams, "invalid glob pattern %q", a.Pattern)
	}
	base := cmp.Or(a.Path, ".")
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return "", NewToolErrorf(ErrFileNotFound, "%s is not a directory", base)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	limit := t.limits.MaxResults
	var found []string
	err = doublestar.GlobWalk(os.DirFS(base), a.Pattern, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if hiddenPath(path) {
			return nil
		}
		if d.IsDir() {
			path += "/"
		}
		found = append(found, filepath.FromSlash(path))
		if limit > 0 && len(found) >= limit {
			return errEnoughResults
		}
		return nil
	})
	truncated := errors.Is(err, errEnoughResults)
	switch {
	case ctx.Err() != nil:
		return "", searchTimedOut("glob", "try a more specific pattern")
	case err != nil && !truncated:
		return "", NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)
	case len(found) == 0:
		return warning + "No files matched the pattern.", nil
	}

	slices.Sort(found)
	out := warning + strings.Join(found, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n[Results truncated at %d files]", limit)
	}
	return out, nil
}
