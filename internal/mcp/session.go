package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultHandshakeTimeout bounds connect, initialize and the first
// tools/list of a session.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrToolUnavailable is returned for calls to a session that is dead,
	// closed or failed to start.
	ErrToolUnavailable = errors.New("tool server unavailable")
	// ErrUnknownTool is returned for a name missing from the session catalog.
	ErrUnknownTool = errors.New("unknown tool")

	errClosedWhileStarting = errors.New("closed while starting")
)

// State is a session lifecycle state.
type State string

const (
	StateNew         State = "new"
	StateConnecting  State = "connecting"
	StateHandshaking State = "handshaking"
	StateReady       State = "ready"
	StateDispatching State = "dispatching"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
	StateDead        State = "dead"
)

// Live reports whether the session can still serve calls.
func (s State) Live() bool {
	return s == StateReady || s == StateDispatching
}

// ToolSpec describes a tool available from an MCP server.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// StatusUpdate is sent on every session state change.
type StatusUpdate struct {
	Server string `json:"server"`
	State  State  `json:"state"`
	Tools  int    `json:"tools,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusFunc receives status updates. It is called synchronously and must
// not block.
type StatusFunc func(StatusUpdate)

// TransportFunc creates the transport for a server.
type TransportFunc func(name string, cfg ServerConfig) mcp.Transport

// Session is one connection to a tool server. Its catalog is fixed once the
// handshake completes. Calls on a session are serialized.
type Session struct {
	name      string
	cfg       ServerConfig
	timeout   time.Duration
	transport TransportFunc
	onStatus  StatusFunc
	version   string

	startMu sync.Mutex
	callMu  sync.Mutex

	mu      sync.Mutex
	state   State
	err     error
	session *mcp.ClientSession
	tools   []ToolSpec
	byName  map[string]bool
}

// NewSession creates a session in StateNew. Nothing is started until Start
// or the first Call.
func NewSession(name string, cfg ServerConfig, timeout time.Duration, transport TransportFunc, onStatus StatusFunc) *Session {
	if d := time.Duration(cfg.HandshakeTimeout); d > 0 {
		timeout = d
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	if transport == nil {
		transport = stdioTransport(0)
	}
	return &Session{
		name:      name,
		cfg:       cfg,
		timeout:   timeout,
		transport: transport,
		onStatus:  onStatus,
		version:   "dev",
		state:     StateNew,
	}
}

// Name returns the server name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state and the error that killed the
// session, if any.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Tools returns the frozen catalog. It is empty until the session is ready.
func (s *Session) Tools() []ToolSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolSpec(nil), s.tools...)
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	if s.state == state && err == nil {
		s.mu.Unlock()
		return
	}
	s.state = state
	if err != nil {
		s.err = err
	}
	tools := len(s.tools)
	s.mu.Unlock()
	s.notify(state, tools, err)
}

func (s *Session) notify(state State, tools int, err error) {
	if s.onStatus == nil {
		return
	}
	update := StatusUpdate{Server: s.name, State: state, Tools: tools}
	if err != nil {
		update.Error = err.Error()
	}
	s.onStatus(update)
}

// markDead moves a non-terminal session to Dead.
func (s *Session) markDead(err error) {
	s.mu.Lock()
	switch s.state {
	case StateClosing, StateClosed, StateDead:
		s.mu.Unlock()
		return
	}
	cs := s.session
	s.mu.Unlock()
	s.setState(StateDead, err)
	if cs != nil {
		go cs.Close()
	}
}

// Start connects, initializes and fetches the catalog within the handshake
// timeout. Failure leaves the session Dead and returns an error wrapping
// ErrToolUnavailable. Start on a ready session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	switch state, err := s.State(); state {
	case StateReady, StateDispatching:
		return nil
	case StateDead, StateClosing, StateClosed:
		return s.unavailable(err)
	}

	if !s.swap(StateNew, StateConnecting) {
		return s.unavailable(errClosedWhileStarting)
	}
	transport := s.transport(s.name, s.cfg)
	client := mcp.NewClient(&mcp.Implementation{Name: "term-agent", Version: s.version}, nil)

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !s.swap(StateConnecting, StateHandshaking) {
		return s.unavailable(errClosedWhileStarting)
	}
	cs, err := client.Connect(hctx, transport, nil)
	if err != nil {
		err = s.handshakeError(hctx, "connect", err)
		s.markDead(err)
		return s.unavailable(err)
	}
	tools, err := listTools(hctx, cs)
	if err != nil {
		_ = cs.Close()
		err = s.handshakeError(hctx, "list tools", err)
		s.markDead(err)
		return s.unavailable(err)
	}

	// Close may have run while the handshake was in flight. The server
	// process is then shut down here, since Close had no session to close.
	s.mu.Lock()
	if s.state != StateHandshaking {
		s.mu.Unlock()
		_ = cs.Close()
		return s.unavailable(errClosedWhileStarting)
	}
	s.session = cs
	s.tools = tools
	s.byName = make(map[string]bool, len(tools))
	for _, t := range tools {
		s.byName[t.Name] = true
	}
	s.state = StateReady
	s.mu.Unlock()
	s.notify(StateReady, len(tools), nil)
	return nil
}

func (s *Session) handshakeError(hctx context.Context, step string, err error) error {
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("handshake with %s timed out after %s", s.name, s.timeout)
	}
	return fmt.Errorf("%s %s: %w", step, s.name, err)
}

func (s *Session) unavailable(err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrToolUnavailable, s.name)
	}
	return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, s.name, err)
}

func listTools(ctx context.Context, cs *mcp.ClientSession) ([]ToolSpec, error) {
	result, err := cs.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap(t.InputSchema),
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// schemaMap normalizes whatever the SDK decoded the input schema into.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m
}

// Call invokes a tool. A session that has not started is started first.
// Dead sessions and unknown names fail without any I/O.
func (s *Session) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if state, _ := s.State(); state == StateNew {
		if err := s.Start(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	state, cs, known, deadErr := s.state, s.session, s.byName[name], s.err
	s.mu.Unlock()
	if !state.Live() || cs == nil {
		return "", s.unavailable(deadErr)
	}
	if !known {
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownTool, name, s.name)
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	// The session may have died or closed while this call waited its turn.
	if !s.swap(StateReady, StateDispatching) {
		_, err := s.State()
		return "", s.unavailable(err)
	}
	result, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if isTransportFailure(err) {
			s.markDead(err)
			return "", s.unavailable(err)
		}
		s.restoreReady()
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	s.restoreReady()

	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, formatContent(result.Content))
	}
	return formatContent(result.Content), nil
}

func (s *Session) restoreReady() {
	s.swap(StateDispatching, StateReady)
}

// swap moves the session from one state to another only if it is still in
// the first.
func (s *Session) swap(from, to State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	tools := len(s.tools)
	s.mu.Unlock()
	s.notify(to, tools, nil)
	return true
}

func isTransportFailure(err error) bool {
	return errors.Is(err, mcp.ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe)
}

// Close shuts the session down. The SDK closes the server's stdin and waits
// for it to exit, terminating it after the transport's grace period. Close
// returns early with ctx's error if ctx ends first.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	state, cs := s.state, s.session
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return nil
	case StateDead:
		return nil
	case StateNew, StateConnecting, StateHandshaking:
		s.setState(StateClosed, nil)
		return nil
	}

	s.setState(StateClosing, nil)
	done := make(chan error, 1)
	go func() { done <- cs.Close() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.setState(StateClosed, nil)
	if err != nil && !isTransportFailure(err) {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}

// formatContent converts MCP content to a string.
func formatContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}

// stdioTransport runs servers as subprocesses. A server with env entries
// inherits the parent environment plus those entries.
func stdioTransport(terminate time.Duration) TransportFunc {
	return func(name string, cfg ServerConfig) mcp.Transport {
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			keys := make([]string, 0, len(cfg.Env))
			for k := range cfg.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Env = append(cmd.Env, k+"="+os.ExpandEnv(cfg.Env[k]))
			}
		}
		return &mcp.CommandTransport{Command: cmd, TerminateDuration: terminate}
	}
}
