package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsaffron/term-agent/internal/config"
)

func TestParseConfig_JSONC(t *testing.T) {
	data := []byte(`{
  // local servers
  "servers": {
    "files": {"command": "mcp-files", "args": ["--root", "."], "handshake_timeout": "3s",},
    "slow": {"command": "mcp-slow", "handshake_timeout": 30}, /* seconds */
  },
}`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if got := cfg.ServerNames(); len(got) != 2 || got[0] != "files" || got[1] != "slow" {
		t.Fatalf("ServerNames = %v", got)
	}
	if d := time.Duration(cfg.Servers["files"].HandshakeTimeout); d != 3*time.Second {
		t.Errorf("files timeout = %s", d)
	}
	if d := time.Duration(cfg.Servers["slow"].HandshakeTimeout); d != 30*time.Second {
		t.Errorf("slow timeout = %s", d)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad json":        `{"servers": [}`,
		"missing command": `{"servers": {"x": {"args": ["a"]}}}`,
		"bad duration":    `{"servers": {"x": {"command": "c", "handshake_timeout": "soon"}}}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			var ce *config.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
		})
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfigFromPath(filepath.Join(dir, "missing.json"))
	if err != nil || len(cfg.Servers) != 0 {
		t.Fatalf("missing file should be empty config: %v %v", cfg, err)
	}

	path := filepath.Join(dir, "mcp.json")
	cfg.AddServer("files", ServerConfig{Command: "mcp-files", HandshakeTimeout: Duration(2 * time.Second)})
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}
	loaded, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("LoadConfigFromPath: %v", err)
	}
	if loaded.Servers["files"].Command != "mcp-files" || time.Duration(loaded.Servers["files"].HandshakeTimeout) != 2*time.Second {
		t.Errorf("round trip lost data: %+v", loaded.Servers["files"])
	}
	if !loaded.RemoveServer("files") || loaded.RemoveServer("files") {
		t.Errorf("RemoveServer should report presence once")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "term-agent", "mcp.json") {
		t.Errorf("path = %s", path)
	}
}

func TestConfigFilter(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{"a": {Command: "a"}, "b": {Command: "b"}}}
	if got := cfg.Filter(nil); len(got.Servers) != 2 {
		t.Errorf("nil filter should keep all")
	}
	if got := cfg.Filter([]string{"b", "zzz"}); len(got.Servers) != 1 {
		t.Errorf("filter = %v", got.ServerNames())
	}
}

func TestToolCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	c := NewToolCache(path)
	if c.Load("x") != nil {
		t.Fatal("empty cache should return nil")
	}
	c.Store("x", []ToolSpec{{Name: "a"}})
	c.Store("y", []ToolSpec{{Name: "b"}, {Name: "c"}})
	if got := NewToolCache(path).Load("y"); len(got) != 2 {
		t.Errorf("Load(y) = %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
	var nilCache *ToolCache
	nilCache.Store("x", nil)
	if nilCache.Load("x") != nil {
		t.Errorf("nil cache should be inert")
	}
}
