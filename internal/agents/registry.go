package agents

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/samsaffron/term-agent/internal/config"
)

//go:embed builtin/*/agent.yaml builtin/*/system.md
var builtinFS embed.FS

// DefaultAgent is used when no agent is selected.
const DefaultAgent = "coder"

// ErrNotFound is returned by Get for an agent no source defines.
var ErrNotFound = errors.New("agent not found")

// source is one place agents are looked up: a tree of <name>/agent.yaml.
type source struct {
	fsys   fs.FS
	kind   AgentSource
	origin string // directory path, or "builtin"
}

func (s source) has(name string) bool {
	info, err := fs.Stat(s.fsys, name+"/"+agentFile)
	return err == nil && !info.IsDir()
}

func (s source) load(name string) (*Agent, error) {
	origin := "builtin:" + name
	if s.kind != SourceBuiltin {
		origin = filepath.Join(s.origin, name)
	}
	return Load(s.fsys, name, s.kind, origin)
}

// names lists the agent directories in the source. A missing directory
// has no agents.
func (s source) names() []string {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && s.has(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

// Registry resolves agent names against its sources in priority order:
// project, user, extra search paths, then built-ins.
type Registry struct {
	sources []source
	cache   map[string]*Agent
}

// RegistryConfig configures the agent registry.
type RegistryConfig struct {
	UseBuiltin  bool
	SearchPaths []string
	// WorkDir overrides the directory searched for project-local agents.
	WorkDir string
}

// NewRegistry creates an agent registry with the standard sources.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{cache: make(map[string]*Agent)}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if workDir != "" {
		r.addDir(filepath.Join(workDir, ".term-agent", "agents"), SourceLocal)
	}
	if dir, err := UserAgentsDir(); err == nil {
		r.addDir(dir, SourceUser)
	}
	for _, dir := range cfg.SearchPaths {
		r.addDir(dir, SourceUser)
	}
	if cfg.UseBuiltin {
		sub, err := fs.Sub(builtinFS, "builtin")
		if err != nil {
			return nil, err
		}
		r.sources = append(r.sources, source{fsys: sub, kind: SourceBuiltin, origin: "builtin"})
	}
	return r, nil
}

func (r *Registry) addDir(dir string, kind AgentSource) {
	r.sources = append(r.sources, source{fsys: os.DirFS(dir), kind: kind, origin: dir})
}

// Get returns the first definition of name. A definition that fails to
// load or validate is an error; it does not fall through to later sources.
func (r *Registry) Get(name string) (*Agent, error) {
	if a, ok := r.cache[name]; ok {
		return a, nil
	}
	if !fs.ValidPath(name) || name == "." {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	for _, s := range r.sources {
		if !s.has(name) {
			continue
		}
		a, err := s.load(name)
		if err == nil {
			err = a.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("agent %s (%s): %w", name, s.kind.SourceName(), err)
		}
		r.cache[name] = a
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns every visible agent sorted by name. Shadowed and invalid
// definitions are left out.
func (r *Registry) List() ([]*Agent, error) {
	var out []*Agent
	for _, name := range r.visible() {
		a, err := r.Get(name)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListNames returns the names of all visible agents without loading them.
func (r *Registry) ListNames() ([]string, error) {
	return r.visible(), nil
}

func (r *Registry) visible() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range r.sources {
		for _, n := range s.names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// UserAgentsDir returns the directory for user-global agents.
func UserAgentsDir() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agents"), nil
}
