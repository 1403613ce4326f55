package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/term-agent/internal/llm"
)

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	limits OutputLimits
}

func NewGrepTool(limits OutputLimits) *GrepTool {
	return &GrepTool{limits: limits}
}

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

// grepContext is how many lines are shown either side of a match.
const grepContext = 2

func (t *GrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents using regex patterns (RE2 syntax). Returns matches with context.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression pattern to search for (RE2 syntax)",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "File or directory to search in (defaults to current directory)",
				},
				"glob": map[string]any{
					"type":        "string",
					"description": "Glob filter for file paths, e.g., '*.go' or '**/*.{js,ts}'",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Preview(args json.RawMessage) string {
	var a GrepArgs
	if json.Unmarshal(args, &a) != nil || a.Pattern == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "/%s/", clip(a.Pattern, 30))
	if a.Path != "" {
		b.WriteString(" in " + a.Path)
	}
	if a.Glob != "" {
		b.WriteString(" (" + a.Glob + ")")
	}
	return b.String()
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a GrepArgs
	warning, err := decodeArgs(args, &a, "pattern", "path", "glob")
	if err != nil {
		return "", err
	}
	s, err := newGrepSearch(a, t.limits.MaxResults)
	if err != nil {
		return "", err
	}
	root := cmp.Or(a.Path, ".")

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	if err := s.run(ctx, root); err != nil {
		switch {
		case ctx.Err() != nil:
			return "", searchTimedOut("grep", "try a more specific pattern or path")
		case os.IsNotExist(err):
			return "", NewToolError(ErrFileNotFound, root)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "failed to search %s: %v", root, err)
	}
	return warning + s.report(), nil
}

// grepSearch collects matches across files until limit is reached.
type grepSearch struct {
	re      *regexp.Regexp
	include string
	limit   int
	hits    []grepHit
}

type grepHit struct {
	path string
	line int    // 1-based
	view string // the match with surrounding lines, match marked with '>'
}

func newGrepSearch(a GrepArgs, limit int) (*grepSearch, error) {
	if a.Pattern == "" {
		return nil, NewToolError(ErrInvalidParams, "pattern is required")
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid regex pattern: %v", err)
	}
	if a.Glob != "" && !doublestar.ValidatePattern(a.Glob) {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid glob %q", a.Glob)
	}
	return &grepSearch{re: re, include: a.Glob, limit: limit}, nil
}

func (s *grepSearch) full() bool {
	return s.limit > 0 && len(s.hits) >= s.limit
}

// run searches root, which may be a single file. Hidden entries below root
// are skipped. Files are visited in lexical order.
func (s *grepSearch) run(ctx context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		s.scan(root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.included(root, path) {
			return nil
		}
		s.scan(path)
		if s.full() {
			return filepath.SkipAll
		}
		return nil
	})
}

// included applies the glob filter to the path relative to root and to the
// bare file name, so "*.go" matches at any depth.
func (s *grepSearch) included(root, path string) bool {
	if s.include == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return doublestar.MatchUnvalidated(s.include, filepath.ToSlash(rel)) ||
		doublestar.MatchUnvalidated(s.include, filepath.Base(path))
}

// scan records the matches in one file. Unreadable and binary files are
// skipped silently.
func (s *grepSearch) scan(path string) {
	lines, err := textLines(path)
	if err != nil {
		return
	}
	for i, line := range lines {
		if s.full() {
			return
		}
		if s.re.MatchString(line) {
			s.hits = append(s.hits, grepHit{path: path, line: i + 1, view: contextView(lines, i)})
		}
	}
}

func contextView(lines []string, at int) string {
	var b strings.Builder
	for i := max(at-grepContext, 0); i < min(at+grepContext+1, len(lines)); i++ {
		mark := ' '
		if i == at {
			mark = '>'
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%c %d: %s", mark, i+1, lines[i])
	}
	return b.String()
}

func (s *grepSearch) report() string {
	if len(s.hits) == 0 {
		return "No matches found."
	}
	var b strings.Builder
	for i, h := range s.hits {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "%s:%d\n%s\n", h.path, h.line, h.view)
	}
	if s.full() {
		b.WriteString("\n[Results truncated at limit]")
	}
	return b.String()
}
