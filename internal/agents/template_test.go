package agents

import (
	"context"
	"testing"
)

func TestVarsExpand(t *testing.T) {
	v := Vars{
		"date":       "2026-01-16",
		"cwd":        "/home/user/project",
		"user":       "dev",
		"git_repo":   "term-agent",
		"git_branch": "main",
		"empty":      "",
	}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single", "Today is {{date}}", "Today is 2026-01-16"},
		{"several", "{{user}} on {{git_repo}} ({{git_branch}})", "dev on term-agent (main)"},
		{"spaces inside braces", "in {{ cwd }}", "in /home/user/project"},
		{"unknown kept", "Hello {{nobody}}", "Hello {{nobody}}"},
		{"empty value", "[{{empty}}]", "[]"},
		{"plain", "no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Expand(tt.in); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAgentPrompt(t *testing.T) {
	a := &Agent{Name: "x", SystemPrompt: "\nRunning on {{os}}.\n"}
	if got := a.Prompt(Vars{"os": "darwin"}); got != "Running on darwin." {
		t.Errorf("Prompt = %q", got)
	}
}

func TestEnvironmentVars(t *testing.T) {
	v := EnvironmentVars(context.Background())
	for _, key := range []string{"date", "datetime", "os", "cwd"} {
		if v[key] == "" {
			t.Errorf("%s missing from %v", key, v)
		}
	}
}
