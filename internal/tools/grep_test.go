package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func TestGrepTool_FindsMatchesWithContext(t *testing.T) {
	dir := t.TempDir()
	token := "unique_grep_token_1234567890"
	writeFiles(t, dir, map[string]string{
		"a.go":         "package a\n\nfunc A() {}\n// " + token + "\nfunc B() {}\n",
		"b.txt":        "nothing here\n",
		"sub/c.go":     token + "\n",
		".hidden/d.go": token + "\n",
	})

	tool := NewGrepTool(DefaultOutputLimits())
	args, _ := json.Marshal(GrepArgs{Pattern: token, Path: dir})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(output, filepath.Join(dir, "a.go")+":4") {
		t.Errorf("expected a.go:4 in output, got: %s", output)
	}
	if !strings.Contains(output, "> 4: // "+token) || !strings.Contains(output, "  3: func A() {}") {
		t.Errorf("expected context lines, got: %s", output)
	}
	if !strings.Contains(output, filepath.Join(dir, "sub", "c.go")) {
		t.Errorf("expected nested match, got: %s", output)
	}
	if strings.Contains(output, ".hidden") {
		t.Errorf("hidden directories should be skipped: %s", output)
	}
}

func TestGrepTool_GlobFilter(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"x.go":  "needle\n",
		"x.txt": "needle\n",
	})
	tool := NewGrepTool(DefaultOutputLimits())
	args, _ := json.Marshal(GrepArgs{Pattern: "needle", Path: dir, Glob: "*.go"})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(output, "x.go") || strings.Contains(output, "x.txt") {
		t.Errorf("glob filter not applied: %s", output)
	}
}

func TestGrepTool_Errors(t *testing.T) {
	tool := NewGrepTool(DefaultOutputLimits())
	tests := map[string]string{
		"bad regex":    `{"pattern": "("}`,
		"missing":      `{"pattern": ""}`,
		"missing path": `{"pattern": "x", "path": "/definitely/not/here"}`,
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := tool.Execute(context.Background(), json.RawMessage(args)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGrepTool_Limit(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"many.txt": strings.Repeat("hit\n", 20)})
	limits := DefaultOutputLimits()
	limits.MaxResults = 3
	tool := NewGrepTool(limits)
	args, _ := json.Marshal(GrepArgs{Pattern: "hit", Path: dir})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(output, "many.txt:"); n != 3 {
		t.Errorf("got %d matches, want 3", n)
	}
	if !strings.Contains(output, "[Results truncated at limit]") {
		t.Errorf("expected truncation note: %s", output)
	}
}
