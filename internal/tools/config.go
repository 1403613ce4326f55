package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/samsaffron/term-agent/internal/config"
)

// ToolConfig holds configuration for the built-in tools.
type ToolConfig struct {
	Enabled      []string      // Enabled tool names; empty enables all
	ShellAllow   []string      // Shell command patterns; empty allows any command
	ShellTimeout time.Duration // Default shell timeout
	ShellGrace   time.Duration // SIGTERM to SIGKILL delay on cancel
	Limits       OutputLimits
}

// DefaultToolConfig returns the defaults used when nothing is configured.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ShellTimeout: 2 * time.Minute,
		ShellGrace:   3 * time.Second,
		Limits:       DefaultOutputLimits(),
	}
}

// FromConfig builds a ToolConfig from the loaded application config.
func FromConfig(tc config.ToolsConfig, grace time.Duration) ToolConfig {
	c := DefaultToolConfig()
	c.ShellAllow = tc.ShellAllow
	if tc.ShellTimeout > 0 {
		c.ShellTimeout = tc.ShellTimeout
	}
	if grace > 0 {
		c.ShellGrace = grace
	}
	if tc.OutputLimit > 0 {
		c.Limits.MaxChars = tc.OutputLimit
	}
	return c
}

// Validate checks the configuration. Errors are ConfigErrors.
func (c *ToolConfig) Validate() error {
	for _, name := range c.Enabled {
		if !ValidToolName(name) {
			return &config.ConfigError{Field: "tools.enabled", Err: fmt.Errorf("unknown tool: %s", name)}
		}
	}
	if _, err := compileShellPatterns(c.ShellAllow); err != nil {
		return &config.ConfigError{Field: "tools.shell_allow", Err: err}
	}
	return nil
}

// IsToolEnabled checks if a tool is enabled.
func (c *ToolConfig) IsToolEnabled(name string) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	for _, n := range c.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

// ParseToolsFlag parses a comma-separated list of tool names.
// Special values: "all" or "*" expand to all available tools.
func ParseToolsFlag(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if trimmed == "all" || trimmed == "*" {
		return AllToolNames()
	}
	var names []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// shellMatcher is a compiled shell allow-list.
type shellMatcher struct {
	patterns []string
	globs    []glob.Glob
}

func compileShellPatterns(patterns []string) (*shellMatcher, error) {
	m := &shellMatcher{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid shell pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Allows reports whether a command matches the allow-list. An empty list
// allows everything.
func (m *shellMatcher) Allows(command string) bool {
	if m == nil || len(m.globs) == 0 {
		return true
	}
	command = strings.TrimSpace(command)
	for _, g := range m.globs {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines   int // Max lines for read_file
	MaxChars   int // Max characters per tool output, head/tail truncated
	MaxResults int // Max results for grep/glob/list_files
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxChars:   30000,
		MaxResults: 200,
	}
}
