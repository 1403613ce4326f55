package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samsaffron/term-agent/internal/toolcall"
)

// Options configure a Client.
type Options struct {
	// HandshakeTimeout is the default for servers that do not set one.
	HandshakeTimeout time.Duration
	// TerminateDuration is how long Close waits for a server to exit after
	// closing its stdin before it is signalled.
	TerminateDuration time.Duration
	// OnStatus receives every session state change.
	OnStatus StatusFunc
	// Transport overrides how servers are reached. Tests use in-memory
	// transports.
	Transport TransportFunc
	// Cache, when set, records catalogs after each handshake. With Lazy
	// it also supplies catalogs for servers that have not started yet.
	Cache *ToolCache
	// Lazy defers starting a server with a cached catalog until one of its
	// tools is called.
	Lazy bool
	// Version is reported to servers during initialize.
	Version string
}

// Client owns one Session per enabled server.
type Client struct {
	opts     Options
	names    []string
	sessions map[string]*Session

	mu      sync.Mutex
	catalog []toolcall.Descriptor
}

// NewClient creates sessions for every enabled server in cfg. No server is
// started.
func NewClient(cfg *Config, opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = stdioTransport(opts.TerminateDuration)
	}
	c := &Client{opts: opts, sessions: make(map[string]*Session)}
	if cfg == nil {
		return c
	}
	for _, name := range cfg.ServerNames() {
		sc := cfg.Servers[name]
		if sc.Disabled {
			continue
		}
		s := NewSession(name, sc, opts.HandshakeTimeout, transport, opts.OnStatus)
		if opts.Version != "" {
			s.version = opts.Version
		}
		c.names = append(c.names, name)
		c.sessions[name] = s
	}
	return c
}

// Servers returns the names of managed servers, sorted.
func (c *Client) Servers() []string {
	return append([]string(nil), c.names...)
}

// Session returns the session for a server.
func (c *Client) Session(name string) (*Session, bool) {
	s, ok := c.sessions[name]
	return s, ok
}

// Discover starts servers in parallel and returns the merged catalog, with
// names in reserved treated as already taken. A server that fails its
// handshake is reported through OnStatus and left out; it never fails
// discovery as a whole.
func (c *Client) Discover(ctx context.Context, reserved ...string) []toolcall.Descriptor {
	var wg sync.WaitGroup
	for _, name := range c.names {
		if c.opts.Lazy && c.cached(name) != nil {
			continue
		}
		s := c.sessions[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Start(ctx); err == nil && c.opts.Cache != nil {
				c.opts.Cache.Store(s.Name(), s.Tools())
			}
		}()
	}
	wg.Wait()
	return c.Descriptors(reserved...)
}

func (c *Client) cached(name string) []ToolSpec {
	if c.opts.Cache == nil {
		return nil
	}
	return c.opts.Cache.Load(name)
}

// Descriptors merges the catalogs of ready servers (and, when lazy, cached
// catalogs of servers not yet started). A tool name that another server
// already uses is exposed as server__tool. The result is computed once and
// then fixed for the client's lifetime.
func (c *Client) Descriptors(reserved ...string) []toolcall.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil {
		return append([]toolcall.Descriptor(nil), c.catalog...)
	}

	taken := make(map[string]bool)
	for _, name := range reserved {
		taken[name] = true
	}
	catalog := []toolcall.Descriptor{}
	for _, server := range c.names {
		s := c.sessions[server]
		var tools []ToolSpec
		switch state, _ := s.State(); {
		case state.Live():
			tools = s.Tools()
		case state == StateNew && c.opts.Lazy:
			tools = c.cached(server)
		}
		for _, t := range tools {
			d := toolcall.Descriptor{
				Name:        t.Name,
				Description: t.Description,
				Schema:      t.Schema,
				Target:      toolcall.ToolServer(server),
			}
			if taken[t.Name] {
				d.Name = server + "__" + t.Name
				d.Remote = t.Name
				d.Description = fmt.Sprintf("[%s] %s", server, t.Description)
			}
			taken[d.Name] = true
			catalog = append(catalog, d)
		}
	}
	c.catalog = catalog
	return append([]toolcall.Descriptor(nil), catalog...)
}

// Call routes a catalog entry to its session.
func (c *Client) Call(ctx context.Context, d toolcall.Descriptor, args map[string]any) (string, error) {
	if d.Target.Kind != toolcall.TargetToolServer {
		return "", fmt.Errorf("%s is not a tool server tool", d.Name)
	}
	s, ok := c.sessions[d.Target.Session]
	if !ok {
		return "", fmt.Errorf("%w: no server named %s", ErrToolUnavailable, d.Target.Session)
	}
	out, err := s.Call(ctx, d.RemoteName(), args)
	if err == nil && c.opts.Cache != nil && c.opts.Lazy {
		c.opts.Cache.Store(s.Name(), s.Tools())
	}
	return out, err
}

// States reports the state of every managed server.
func (c *Client) States() []StatusUpdate {
	out := make([]StatusUpdate, 0, len(c.names))
	for _, name := range c.names {
		s := c.sessions[name]
		state, err := s.State()
		u := StatusUpdate{Server: name, State: state, Tools: len(s.Tools())}
		if err != nil {
			u.Error = err.Error()
		}
		out = append(out, u)
	}
	return out
}

// CloseAll closes every session in parallel.
func (c *Client) CloseAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range c.names {
		s := c.sessions[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
