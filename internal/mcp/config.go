package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/samsaffron/term-agent/internal/config"
)

// Config represents the mcp.json configuration file. Comments and trailing
// commas are accepted.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// ServerConfig represents a configured stdio MCP server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// HandshakeTimeout overrides the client default for this server.
	HandshakeTimeout Duration `json:"handshake_timeout,omitempty"`
	// Disabled servers are listed but never started.
	Disabled bool `json:"disabled,omitempty"`
}

// Validate checks that the server configuration is usable.
func (c *ServerConfig) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("stdio transport requires command")
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout must not be negative")
	}
	return nil
}

// Duration accepts "10s" style strings or a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			secs, serr := strconv.ParseFloat(s, 64)
			if serr != nil {
				return fmt.Errorf("invalid duration %q", s)
			}
			parsed = time.Duration(secs * float64(time.Second))
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// DefaultConfigPath returns the default path for mcp.json.
func DefaultConfigPath() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}

// LoadConfig loads the MCP configuration from the default path.
func LoadConfig() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFromPath(path)
}

// LoadConfigFromPath loads the MCP configuration from a specific path. A
// missing file is an empty configuration.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes mcp.json content and validates every server.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, &config.ConfigError{Field: "mcp.json", Err: err}
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	for _, name := range cfg.ServerNames() {
		sc := cfg.Servers[name]
		if err := sc.Validate(); err != nil {
			return nil, &config.ConfigError{Field: "servers." + name, Err: err}
		}
	}
	return &cfg, nil
}

// SaveToPath writes the configuration as plain JSON.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddServer adds or updates a server configuration.
func (c *Config) AddServer(name string, cfg ServerConfig) {
	if c.Servers == nil {
		c.Servers = make(map[string]ServerConfig)
	}
	c.Servers[name] = cfg
}

// RemoveServer removes a server configuration.
func (c *Config) RemoveServer(name string) bool {
	if _, ok := c.Servers[name]; ok {
		delete(c.Servers, name)
		return true
	}
	return false
}

// Filter returns a copy holding only the named servers. A nil list keeps
// every server.
func (c *Config) Filter(names []string) *Config {
	if names == nil {
		return c
	}
	out := &Config{Servers: make(map[string]ServerConfig)}
	for _, name := range names {
		if sc, ok := c.Servers[name]; ok {
			out.Servers[name] = sc
		}
	}
	return out
}
