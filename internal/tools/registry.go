package tools

import (
	"context"
	"encoding/json"

	"github.com/samsaffron/term-agent/internal/toolcall"
)

// Registry holds the enabled built-in tools.
type Registry struct {
	config ToolConfig
	order  []string
	tools  map[string]Tool
}

// NewRegistry creates a registry with every tool enabled in cfg.
func NewRegistry(cfg ToolConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{config: cfg, tools: make(map[string]Tool)}
	for _, name := range AllToolNames() {
		if !cfg.IsToolEnabled(name) {
			continue
		}
		tool, err := r.newTool(name)
		if err != nil {
			return nil, err
		}
		r.order = append(r.order, name)
		r.tools[name] = tool
	}
	return r, nil
}

func (r *Registry) newTool(name string) (Tool, error) {
	switch name {
	case ListFilesToolName:
		return NewListFilesTool(r.config.Limits), nil
	case ReadFileToolName:
		return NewReadFileTool(r.config.Limits), nil
	case GlobToolName:
		return NewGlobTool(r.config.Limits), nil
	case GrepToolName:
		return NewGrepTool(r.config.Limits), nil
	case ShellToolName:
		return NewShellTool(r.config)
	}
	return nil, NewToolErrorf(ErrInvalidParams, "unknown tool: %s", name)
}

// Names returns the enabled tool names in catalog order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Descriptors returns catalog entries for every enabled tool.
func (r *Registry) Descriptors() []toolcall.Descriptor {
	if r == nil {
		return nil
	}
	descs := make([]toolcall.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].Spec()
		descs = append(descs, toolcall.Descriptor{
			Name:        spec.Name,
			Description: spec.Description,
			Schema:      spec.Schema,
			Target:      toolcall.BuiltIn,
		})
	}
	return descs
}

// Run executes a tool. Output is truncated head/tail to the configured limit.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", &toolcall.InvocationError{Tool: name, Reason: "unknown tool"}
	}
	out, err := tool.Execute(ctx, args)
	return TruncateHeadTail(out, r.config.Limits.MaxChars), err
}

// Preview returns a one-line summary of a call for display.
func (r *Registry) Preview(name string, args json.RawMessage) string {
	tool, ok := r.Get(name)
	if !ok {
		return ""
	}
	return tool.Preview(args)
}
