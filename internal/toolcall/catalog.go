package toolcall

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/samsaffron/term-agent/internal/llm"
)

// Catalog is the set of tools offered to the model for a conversation.
type Catalog struct {
	descs []Descriptor
	index map[string]int

	mu      sync.Mutex
	schemas map[string]*jsonschema.Resolved
}

// NewCatalog builds a catalog. When two descriptors share a name the first
// one wins.
func NewCatalog(descs ...Descriptor) *Catalog {
	c := &Catalog{index: make(map[string]int), schemas: make(map[string]*jsonschema.Resolved)}
	for _, d := range descs {
		if _, dup := c.index[d.Name]; dup {
			slog.Warn("duplicate tool name ignored", "tool", d.Name, "target", d.Target.String())
			continue
		}
		c.index[d.Name] = len(c.descs)
		c.descs = append(c.descs, d)
	}
	return c
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.descs[i], true
}

// Descriptors returns the catalog entries in insertion order.
func (c *Catalog) Descriptors() []Descriptor {
	if c == nil {
		return nil
	}
	return append([]Descriptor(nil), c.descs...)
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.descs)
}

// Specs renders the catalog as native tool specs.
func (c *Catalog) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, c.Len())
	for _, d := range c.Descriptors() {
		specs = append(specs, llm.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return specs
}

// Validate checks args against the tool's input schema. Tools without a
// schema, or with one that cannot be resolved, accept any object.
func (c *Catalog) Validate(d Descriptor, args map[string]any) error {
	rs := c.resolved(d)
	if rs == nil {
		return nil
	}
	return rs.Validate(args)
}

func (c *Catalog) resolved(d Descriptor) *jsonschema.Resolved {
	if len(d.Schema) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.schemas[d.Name]; ok {
		return rs
	}
	rs, err := resolveSchema(d.Schema)
	if err != nil {
		slog.Debug("tool schema not usable for validation", "tool", d.Name, "error", err)
	}
	c.schemas[d.Name] = rs
	return rs
}

func resolveSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
