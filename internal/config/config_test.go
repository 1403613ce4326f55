package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileDefaultsAndProviders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
selected: 1
max_tool_rounds: 7
handshake_timeout: 2s
providers:
  - id: local
    kind: openai-compat
    model: qwen3
    base_url: http://localhost:11434/v1
    tool_method: chat
    max_context_tokens: 8192
  - id: claude
    kind: anthropic
    model: claude-sonnet-4-5
    max_context_tokens: auto
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.MaxToolRounds != 7 {
		t.Fatalf("max_tool_rounds=%d, want 7", cfg.MaxToolRounds)
	}
	if cfg.HandshakeTimeout != 2*time.Second {
		t.Fatalf("handshake_timeout=%v, want 2s", cfg.HandshakeTimeout)
	}
	if cfg.CancelGrace != 3*time.Second {
		t.Fatalf("cancel_grace default=%v, want 3s", cfg.CancelGrace)
	}
	if cfg.ProjectDoc != "AGENTS.md" {
		t.Fatalf("project_doc default=%q", cfg.ProjectDoc)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers=%d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].MaxContextTokens != "8192" {
		t.Fatalf("max_context_tokens=%q, want 8192", cfg.Providers[0].MaxContextTokens)
	}

	pc, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pc.ID != "claude" || pc.Kind != KindAnthropic {
		t.Fatalf("selected %q/%q, want claude/anthropic", pc.ID, pc.Kind)
	}
	if !pc.ContextAuto || pc.MaxContextTokens != 0 {
		t.Fatalf("auto budget not flagged: %+v", pc)
	}
	if pc.ToolMethod != ToolMethodFunctionCall {
		t.Fatalf("tool method=%q, want function_call default", pc.ToolMethod)
	}
}

func TestLoadFileMissingProvidersUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auto_compact: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.AutoCompact {
		t.Fatal("auto_compact not read")
	}
	if len(cfg.Providers) == 0 {
		t.Fatal("expected default providers")
	}
}

func TestResolveOverrides(t *testing.T) {
	cfg := &Config{Providers: []ProviderEntry{
		{ID: "a", Kind: "openai", Model: "gpt-4o", ToolMethod: "function_call"},
		{ID: "b", Kind: "gemini", Model: "gemini-2.5-flash"},
	}}

	pc, err := Resolve(cfg, Overrides{Provider: "b", Model: "gemini-2.5-pro", ToolMethod: "chat", MaxContextTokens: "100"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pc.ID != "b" {
		t.Fatalf("id=%q, want b", pc.ID)
	}
	if pc.Model != "gemini-2.5-pro" {
		t.Fatalf("model=%q", pc.Model)
	}
	if pc.ToolMethod != ToolMethodChat {
		t.Fatalf("tool method=%q, want chat", pc.ToolMethod)
	}
	if pc.MaxContextTokens != 100 {
		t.Fatalf("budget=%d, want 100", pc.MaxContextTokens)
	}

	pc, err = Resolve(cfg, Overrides{Provider: "0"})
	if err != nil {
		t.Fatalf("Resolve by index: %v", err)
	}
	if pc.ID != "a" {
		t.Fatalf("id=%q, want a", pc.ID)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *Config
		o     Overrides
		field string
	}{
		{
			name:  "no providers",
			cfg:   &Config{},
			field: "providers",
		},
		{
			name:  "selected out of range",
			cfg:   &Config{Selected: 3, Providers: []ProviderEntry{{Kind: "openai", Model: "m"}}},
			field: "selected",
		},
		{
			name:  "unknown id",
			cfg:   &Config{Providers: []ProviderEntry{{ID: "a", Kind: "openai", Model: "m"}}},
			o:     Overrides{Provider: "zzz"},
			field: "provider",
		},
		{
			name:  "unknown kind",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "bogus", Model: "m"}}},
			field: "providers[0].kind",
		},
		{
			name:  "compat without base url",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "openai-compat", Model: "m"}}},
			field: "providers[0].base_url",
		},
		{
			name:  "missing model",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "openai"}}},
			field: "providers[0].model",
		},
		{
			name:  "bad tool method",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "openai", Model: "m", ToolMethod: "telepathy"}}},
			field: "providers[0].tool_method",
		},
		{
			name:  "bad budget",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "openai", Model: "m", MaxContextTokens: "lots"}}},
			field: "providers[0].max_context_tokens",
		},
		{
			name:  "negative budget",
			cfg:   &Config{Providers: []ProviderEntry{{Kind: "openai", Model: "m", MaxContextTokens: "-5"}}},
			field: "providers[0].max_context_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.cfg, tt.o)
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not a ConfigError: %v", err, err)
			}
			if ce.Field != tt.field {
				t.Fatalf("field=%q, want %q", ce.Field, tt.field)
			}
			if !IsConfigError(err) {
				t.Fatal("IsConfigError=false")
			}
		})
	}
}

func TestResolveInjectsEnv(t *testing.T) {
	t.Setenv("TERM_AGENT_TEST_SOURCE", "secret-value")
	t.Setenv("TERM_AGENT_TEST_TARGET", "")
	cfg := &Config{Providers: []ProviderEntry{{
		Kind:   "openai",
		Model:  "m",
		APIKey: "${TERM_AGENT_TEST_SOURCE}",
		Env:    map[string]string{"TERM_AGENT_TEST_TARGET": "$TERM_AGENT_TEST_SOURCE"},
	}}}

	pc, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pc.APIKey != "secret-value" {
		t.Fatalf("api key=%q, want expanded value", pc.APIKey)
	}
	if got := os.Getenv("TERM_AGENT_TEST_TARGET"); got != "secret-value" {
		t.Fatalf("injected env=%q, want secret-value", got)
	}
	if pc.ID != "openai" {
		t.Fatalf("id defaults to kind, got %q", pc.ID)
	}
}

func TestParseToolMethod(t *testing.T) {
	cases := map[string]ToolMethod{
		"":              ToolMethodFunctionCall,
		"function_call": ToolMethodFunctionCall,
		"function-call": ToolMethodFunctionCall,
		"FunctionCall":  ToolMethodFunctionCall,
		"chat":          ToolMethodChat,
		" Chat ":        ToolMethodChat,
	}
	for in, want := range cases {
		got, err := ParseToolMethod(in)
		if err != nil {
			t.Fatalf("ParseToolMethod(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseToolMethod(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestDirsHonorXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	t.Setenv("XDG_STATE_HOME", "/tmp/state")

	if dir, _ := GetConfigDir(); dir != "/tmp/cfg/term-agent" {
		t.Fatalf("config dir=%q", dir)
	}
	if p, _ := GetConfigPath(); p != "/tmp/cfg/term-agent/config.yaml" {
		t.Fatalf("config path=%q", p)
	}
	if dir, _ := GetDataDir(); dir != "/tmp/data/term-agent" {
		t.Fatalf("data dir=%q", dir)
	}
	if dir, _ := GetStateDir(); dir != "/tmp/state/term-agent" {
		t.Fatalf("state dir=%q", dir)
	}
}
