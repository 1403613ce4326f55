package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestListFilesTool(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.txt":      "b",
		"a.txt":      "a",
		"sub/c.txt":  "c",
		"sub/d/e.go": "e",
	})
	tool := NewListFilesTool(DefaultOutputLimits())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"`+filepath.ToSlash(dir)+`"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "a.txt\nb.txt\nsub/" {
		t.Errorf("listing = %q", out)
	}

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"path":"`+filepath.ToSlash(filepath.Join(dir, "nope"))+`"}`))
	var te *ToolError
	if !errors.As(err, &te) || te.Type != ErrFileNotFound {
		t.Errorf("missing dir err = %v", err)
	}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"f.txt":   "one\ntwo\nthree\nfour\n",
		"bin.dat": "\x00\x01\x02binary",
	})
	path := filepath.Join(dir, "f.txt")
	tool := NewReadFileTool(DefaultOutputLimits())

	tests := []struct {
		name string
		args ReadFileArgs
		want string
	}{
		{"whole file", ReadFileArgs{Path: path}, "1: one\n2: two\n3: three\n4: four"},
		{"offset", ReadFileArgs{Path: path, Offset: 2}, "3: three\n4: four"},
		{"offset and limit", ReadFileArgs{Path: path, Offset: 1, Limit: 2}, "2: two\n3: three"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, _ := json.Marshal(tt.args)
			got, err := tool.Execute(context.Background(), args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	errCases := []struct {
		name string
		args ReadFileArgs
		want ToolErrorType
	}{
		{"missing", ReadFileArgs{Path: filepath.Join(dir, "nope")}, ErrFileNotFound},
		{"binary", ReadFileArgs{Path: filepath.Join(dir, "bin.dat")}, ErrBinaryFile},
		{"offset past end", ReadFileArgs{Path: path, Offset: 10}, ErrInvalidParams},
		{"no path", ReadFileArgs{}, ErrInvalidParams},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			args, _ := json.Marshal(tt.args)
			_, err := tool.Execute(context.Background(), args)
			var te *ToolError
			if !errors.As(err, &te) || te.Type != tt.want {
				t.Errorf("err = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestReadFileTool_LineCap(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"long.txt": strings.Repeat("x\n", 50)})
	limits := DefaultOutputLimits()
	limits.MaxLines = 5
	tool := NewReadFileTool(limits)
	args, _ := json.Marshal(ReadFileArgs{Path: filepath.Join(dir, "long.txt")})
	got, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "1: x\n") || !strings.Contains(got, "5: x\n\n[Output truncated. Total lines: 50.") {
		t.Errorf("got %q", got)
	}
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.go":        "",
		"pkg/a.go":       "",
		"pkg/deep/b.go":  "",
		"pkg/readme.md":  "",
		".git/config.go": "",
		"pkg/.hidden.go": "",
	})
	tool := NewGlobTool(DefaultOutputLimits())

	args, _ := json.Marshal(GlobArgs{Pattern: "**/*.go", Path: dir})
	got, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := strings.Join([]string{"main.go", filepath.Join("pkg", "a.go"), filepath.Join("pkg", "deep", "b.go")}, "\n")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	args, _ = json.Marshal(GlobArgs{Pattern: "*.rs", Path: dir})
	if got, _ := tool.Execute(context.Background(), args); got != "No files matched the pattern." {
		t.Errorf("no-match output = %q", got)
	}

	args, _ = json.Marshal(GlobArgs{Pattern: "[", Path: dir})
	if _, err := tool.Execute(context.Background(), args); err == nil {
		t.Error("bad pattern should fail")
	}
}

func TestGlobTool_Limit(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"1.txt": "", "2.txt": "", "3.txt": "", "4.txt": ""})
	limits := DefaultOutputLimits()
	limits.MaxResults = 2
	tool := NewGlobTool(limits)
	args, _ := json.Marshal(GlobArgs{Pattern: "*.txt", Path: dir})
	got, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "[Results truncated at 2 files]") || strings.Count(got, ".txt") != 2 {
		t.Errorf("got %q", got)
	}
}
