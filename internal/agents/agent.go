// Package agents provides named configuration bundles for term-agent.
// An agent combines a system prompt, a tool allow/deny list, a provider
// preference and the MCP servers it may use.
package agents

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"gopkg.in/yaml.v3"
)

// Agent represents a named configuration bundle.
type Agent struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Provider is a provider id or index from the config.
	Provider   string `yaml:"provider,omitempty"`
	Model      string `yaml:"model,omitempty"`
	ToolMethod string `yaml:"tool_method,omitempty"`

	Tools ToolsConfig `yaml:"tools,omitempty"`
	Shell ShellConfig `yaml:"shell,omitempty"`

	MaxToolRounds int `yaml:"max_tool_rounds,omitempty"`

	// MCP lists the servers this agent may start; empty means all.
	MCP []string `yaml:"mcp,omitempty"`

	// SystemPrompt is the content of system.md, before expansion.
	SystemPrompt string `yaml:"-"`

	Source     AgentSource `yaml:"-"`
	SourcePath string      `yaml:"-"`
}

// AgentSource says where an agent definition came from. Lower values shadow
// higher ones.
type AgentSource int

const (
	SourceLocal   AgentSource = iota // ./.term-agent/agents
	SourceUser                       // $XDG_CONFIG_HOME/term-agent/agents and extra paths
	SourceBuiltin                    // compiled in
)

// SourceName returns a human-readable name for the agent source.
func (s AgentSource) SourceName() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceUser:
		return "user"
	case SourceBuiltin:
		return "builtin"
	}
	return "unknown"
}

// ToolsConfig narrows the tool catalog. At most one list may be set.
type ToolsConfig struct {
	Enabled  []string `yaml:"enabled,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`
}

// ShellConfig overrides the shell tool's allow list.
type ShellConfig struct {
	Allow []string `yaml:"allow,omitempty"`
}

const (
	agentFile  = "agent.yaml"
	promptFile = "system.md"
)

// Load reads the agent stored under dir in fsys: dir/agent.yaml and an
// optional dir/system.md. origin is recorded as SourcePath.
func Load(fsys fs.FS, dir string, source AgentSource, origin string) (*Agent, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, agentFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", agentFile, err)
	}
	var a Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", agentFile, err)
	}

	prompt, err := fs.ReadFile(fsys, path.Join(dir, promptFile))
	switch {
	case err == nil:
		a.SystemPrompt = string(prompt)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", promptFile, err)
	}

	if a.Name == "" {
		a.Name = path.Base(dir)
	}
	a.Source = source
	a.SourcePath = origin
	return &a, nil
}

// FilterTools narrows a catalog's tool names to the ones this agent allows.
// With neither list set every tool is allowed.
func (a *Agent) FilterTools(all []string) []string {
	if len(a.Tools.Enabled) == 0 && len(a.Tools.Disabled) == 0 {
		return all
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if a.allowsTool(name) {
			out = append(out, name)
		}
	}
	return out
}

func (a *Agent) allowsTool(name string) bool {
	if len(a.Tools.Enabled) > 0 {
		return slices.Contains(a.Tools.Enabled, name)
	}
	return !slices.Contains(a.Tools.Disabled, name)
}

// AllowsServer reports whether the agent may use the named MCP server.
func (a *Agent) AllowsServer(name string) bool {
	return len(a.MCP) == 0 || slices.Contains(a.MCP, name)
}

func (a *Agent) String() string {
	if a.Description == "" {
		return a.Name
	}
	return a.Name + " - " + a.Description
}

// Validate checks the fields Load cannot.
func (a *Agent) Validate() error {
	switch {
	case a.Name == "":
		return errors.New("agent name is required")
	case len(a.Tools.Enabled) > 0 && len(a.Tools.Disabled) > 0:
		return errors.New("tools.enabled and tools.disabled are exclusive")
	case a.MaxToolRounds < 0:
		return fmt.Errorf("max_tool_rounds must not be negative, got %d", a.MaxToolRounds)
	}
	return nil
}
