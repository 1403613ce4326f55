package projectctx

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samsaffron/term-agent/internal/transcript"
)

// instructionFiles are searched in priority order after the configured
// project doc.
var instructionFiles = []string{
	"AGENTS.md",
	"CLAUDE.md",
	".github/copilot-instructions.md",
	".cursor/rules",
}

// Docs finds the project instruction file. It checks the start directory,
// then each parent up to the git root. Outside a repository only the start
// directory is searched.
type Docs struct {
	// File is the configured project doc, tried before the defaults.
	File string
	// Dir is where the search starts. Empty means the working directory.
	Dir string
}

func (d Docs) Name() string { return "project_doc" }

func (d Docs) Turns(ctx context.Context) ([]transcript.Turn, error) {
	path, content, err := d.Find()
	if err != nil || path == "" {
		return nil, err
	}
	return []transcript.Turn{pinned(d.Name(), "# Project Instructions (from "+path+")\n\n"+content)}, nil
}

// Find returns the path, relative to the start directory, and the content
// of the first non-empty instruction file. It returns an empty path when
// there is none.
func (d Docs) Find() (string, string, error) {
	start := d.Dir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", "", err
		}
		start = wd
	}
	start, err := filepath.Abs(start)
	if err != nil {
		return "", "", err
	}

	names := instructionFiles
	if d.File != "" {
		names = append([]string{d.File}, instructionFiles...)
	}

	for _, dir := range searchDirs(start) {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if filepath.IsAbs(name) {
				path = name
			}
			content, err := os.ReadFile(path)
			if err != nil || len(content) == 0 {
				continue
			}
			rel := path
			if r, err := filepath.Rel(start, path); err == nil {
				rel = r
			}
			return rel, string(content), nil
		}
	}
	return "", "", nil
}

// searchDirs lists start and its parents up to the enclosing git root.
func searchDirs(start string) []string {
	root := FindGitRoot(start)
	if root == "" {
		return []string{start}
	}
	dirs := []string{start}
	for dir := start; dir != root; {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dirs = append(dirs, parent)
		dir = parent
	}
	return dirs
}

// FindGitRoot returns the nearest directory at or above path that contains
// a .git entry, or "" when path is not inside a repository.
func FindGitRoot(path string) string {
	for dir := path; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
