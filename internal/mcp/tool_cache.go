package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/samsaffron/term-agent/internal/config"
)

// ToolCache persists the last known catalog of each server so listings and
// lazy sessions do not need a handshake.
type ToolCache struct {
	path string
	mu   sync.Mutex
}

// toolCacheFile is the on-disk format.
type toolCacheFile struct {
	Servers map[string][]ToolSpec `json:"servers"`
}

// NewToolCache uses the file at path.
func NewToolCache(path string) *ToolCache {
	return &ToolCache{path: path}
}

// DefaultToolCache stores the cache in the state directory.
func DefaultToolCache() (*ToolCache, error) {
	dir, err := config.GetStateDir()
	if err != nil {
		return nil, err
	}
	return NewToolCache(filepath.Join(dir, "mcp-tools-cache.json")), nil
}

// Store writes the tool list for a server. Failures are ignored.
func (c *ToolCache) Store(server string, tools []ToolSpec) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cache := c.read()
	cache.Servers[server] = tools
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path)
}

// Load returns the cached tool list for a server, or nil.
func (c *ToolCache) Load(server string) []ToolSpec {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read().Servers[server]
}

func (c *ToolCache) read() toolCacheFile {
	cache := toolCacheFile{Servers: make(map[string][]ToolSpec)}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return cache
	}
	_ = json.Unmarshal(data, &cache)
	if cache.Servers == nil {
		cache.Servers = make(map[string][]ToolSpec)
	}
	return cache
}
