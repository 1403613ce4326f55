package agents

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeAgent(t *testing.T, root, name, yaml, prompt string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if prompt != "" {
		if err := os.WriteFile(filepath.Join(dir, "system.md"), []byte(prompt), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// newTestRegistry isolates the user config dir and returns a registry over
// a project dir and one extra search path.
func newTestRegistry(t *testing.T, builtin bool) (r *Registry, local, extra string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	work := t.TempDir()
	local = filepath.Join(work, ".term-agent", "agents")
	extra = t.TempDir()
	r, err := NewRegistry(RegistryConfig{UseBuiltin: builtin, WorkDir: work, SearchPaths: []string{extra}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, local, extra
}

func TestBuiltinAgents(t *testing.T) {
	r, _, _ := newTestRegistry(t, true)
	names, err := r.ListNames()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"coder", "reviewer", "shell"}, names); diff != "" {
		t.Fatalf("builtin names (-want +got):\n%s", diff)
	}
	for _, name := range names {
		a, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if a.Source != SourceBuiltin || a.SourcePath != "builtin:"+name || a.SystemPrompt == "" {
			t.Errorf("builtin %s = %+v", name, a)
		}
	}
	if _, err := r.Get(DefaultAgent); err != nil {
		t.Errorf("default agent: %v", err)
	}
}

func TestRegistry_Shadowing(t *testing.T) {
	r, local, extra := newTestRegistry(t, true)
	writeAgent(t, local, "coder", "description: project coder\n", "local prompt")
	writeAgent(t, extra, "coder", "description: shadowed\n", "")
	writeAgent(t, extra, "docs", "description: writes docs\n", "")

	a, err := r.Get("coder")
	if err != nil {
		t.Fatal(err)
	}
	if a.Source != SourceLocal || a.Description != "project coder" || a.SystemPrompt != "local prompt" {
		t.Errorf("coder = %+v, want the project definition", a)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]AgentSource{}
	var order []string
	for _, a := range list {
		got[a.Name] = a.Source
		order = append(order, a.Name)
	}
	if diff := cmp.Diff([]string{"coder", "docs", "reviewer", "shell"}, order); diff != "" {
		t.Errorf("list order (-want +got):\n%s", diff)
	}
	if got["coder"] != SourceLocal || got["docs"] != SourceUser || got["shell"] != SourceBuiltin {
		t.Errorf("sources = %v", got)
	}
}

func TestRegistry_WithoutBuiltins(t *testing.T) {
	r, local, _ := newTestRegistry(t, false)
	writeAgent(t, local, "mine", "name: mine\n", "")

	if _, err := r.Get("coder"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(coder) = %v, want ErrNotFound", err)
	}
	names, _ := r.ListNames()
	if diff := cmp.Diff([]string{"mine"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestRegistry_InvalidDefinitionDoesNotFallThrough(t *testing.T) {
	r, local, _ := newTestRegistry(t, true)
	writeAgent(t, local, "coder", "tools:\n  enabled: [a]\n  disabled: [b]\n", "")

	if _, err := r.Get("coder"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want a validation error", err)
	}
	list, _ := r.List()
	for _, a := range list {
		if a.Name == "coder" {
			t.Errorf("invalid agent listed: %+v", a)
		}
	}
}

func TestRegistry_RejectsPathNames(t *testing.T) {
	r, _, _ := newTestRegistry(t, true)
	for _, name := range []string{"", ".", "../coder", "a/../b"} {
		if _, err := r.Get(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) = %v, want ErrNotFound", name, err)
		}
	}
}

func TestRegistry_IgnoresDirsWithoutDefinition(t *testing.T) {
	r, local, _ := newTestRegistry(t, false)
	if err := os.MkdirAll(filepath.Join(local, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if names, _ := r.ListNames(); len(names) != 0 {
		t.Errorf("names = %v, want none", names)
	}
}
