package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsaffron/term-agent/internal/agents"
	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/mcp"
	"github.com/samsaffron/term-agent/internal/projectctx"
	"github.com/samsaffron/term-agent/internal/session"
	"github.com/samsaffron/term-agent/internal/tools"
	"github.com/samsaffron/term-agent/internal/transcript"
)

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil && !config.IsConfigError(err) {
		err = &config.ConfigError{Err: err}
	}
	return cfg, err
}

// agentRun is everything a conversation needs, resolved from config and
// flags before the first prompt.
type agentRun struct {
	runID    string
	cfg      *config.Config
	pc       *config.ProviderConfig
	agent    *agents.Agent
	provider llm.Provider
	builtins *tools.Registry
	servers  *mcp.Client
	store    session.Store
	debugLog *llm.DebugLogger

	systemPrompt string
	context      []transcript.Turn
	seed         []transcript.Turn
	allowed      []string
	maxRounds    int
	traceOpts    event.Options
	traceFile    string
	traceStdout  bool
	recorded     bool // a history entry exists for runID
}

// newAgentRun resolves a run. Tool server status changes are published on
// bus while servers start.
func newAgentRun(ctx context.Context, f *runFlags, bus *event.Bus) (*agentRun, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &agentRun{runID: session.NewID(), cfg: cfg, traceFile: f.TraceFile, traceStdout: f.Trace}

	if rt.agent, err = loadAgent(f.Agent); err != nil {
		return nil, err
	}

	o := config.Overrides{
		Provider:         firstNonEmpty(f.Provider, rt.agent.Provider),
		Model:            firstNonEmpty(f.Model, rt.agent.Model),
		ToolMethod:       firstNonEmpty(f.ToolMethod, rt.agent.ToolMethod),
		MaxContextTokens: f.MaxContextTokens,
	}
	if rt.pc, err = config.Resolve(cfg, o); err != nil {
		return nil, err
	}
	rt.pc.MaxContextTokens = llm.ResolveContextBudget(rt.pc)

	rt.traceOpts = event.Options{
		Encoding: firstNonEmpty(f.TraceEncoding, cfg.Trace.Encoding),
		Compress: f.TraceCompress || cfg.Trace.Compress,
	}
	if e := rt.traceOpts.Encoding; e != "" && e != event.EncodingJSON && e != event.EncodingCBOR {
		return nil, &config.ConfigError{Field: "trace.encoding", Err: fmt.Errorf("unknown encoding %q", e)}
	}

	store, err := session.NewStore(session.ConfigFrom(cfg.Sessions))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: run history unavailable: %v\n", err)
		store = &session.NoopStore{}
	}
	rt.store = session.NewLoggingStore(store)

	if f.DebugLog {
		if rt.debugLog, err = openDebugLog(rt.runID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: debug log unavailable: %v\n", err)
		}
	}
	if rt.provider, err = llm.NewProvider(rt.pc, llm.Options{DebugLog: rt.debugLog}); err != nil {
		rt.close()
		return nil, err
	}

	if !f.NoTools {
		if err := rt.startTools(ctx, bus); err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.systemPrompt = rt.agent.Prompt(agents.EnvironmentVars(ctx))
	rt.maxRounds = cfg.MaxToolRounds
	if rt.agent.MaxToolRounds > 0 {
		rt.maxRounds = rt.agent.MaxToolRounds
	}
	if f.MaxRounds > 0 {
		rt.maxRounds = f.MaxRounds
	}

	hookPath := cfg.ShellHookFile
	if hookPath == "" {
		hookPath, _ = projectctx.DefaultHookPath()
	}
	var hook projectctx.Provider
	if hookPath != "" {
		hook = projectctx.ShellHook{Path: hookPath}
	}
	rt.context = projectctx.Collect(ctx, projectctx.Docs{File: cfg.ProjectDoc}, hook)

	if rt.seed, err = rt.loadSeed(ctx, f); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func loadAgent(name string) (*agents.Agent, error) {
	if name == "" {
		name = agents.DefaultAgent
	}
	registry, err := agents.NewRegistry(agents.RegistryConfig{UseBuiltin: true})
	if err != nil {
		return nil, err
	}
	agent, err := registry.Get(name)
	if err != nil {
		return nil, &config.ConfigError{Field: "agent", Err: err}
	}
	return agent, nil
}

// startTools builds the built-in registry and starts the agent's tool
// servers. A server that fails its handshake is reported and left out.
func (rt *agentRun) startTools(ctx context.Context, bus *event.Bus) error {
	tc := tools.FromConfig(rt.cfg.Tools, rt.cfg.CancelGrace)
	if len(rt.agent.Shell.Allow) > 0 {
		tc.ShellAllow = rt.agent.Shell.Allow
	}
	builtins, err := tools.NewRegistry(tc)
	if err != nil {
		return err
	}

	mcpCfg, err := mcp.LoadConfig()
	if err != nil {
		return &config.ConfigError{Field: "mcp", Err: err}
	}
	if len(rt.agent.MCP) > 0 {
		mcpCfg = mcpCfg.Filter(rt.agent.MCP)
	}
	var servers *mcp.Client
	if len(mcpCfg.Servers) > 0 {
		cache, _ := mcp.DefaultToolCache()
		servers = mcp.NewClient(mcpCfg, mcp.Options{
			HandshakeTimeout:  rt.cfg.HandshakeTimeout,
			TerminateDuration: rt.cfg.CancelGrace,
			OnStatus:          publishServerStatus(bus),
			Cache:             cache,
			Version:           Version,
		})
		servers.Discover(ctx, builtins.Names()...)
	}

	all := builtins.Names()
	if servers != nil {
		for _, d := range servers.Descriptors(builtins.Names()...) {
			all = append(all, d.Name)
		}
	}
	allowed := rt.agent.FilterTools(all)
	if len(allowed) == 0 {
		// The agent allows none of the available tools. An empty allow list
		// means "everything" to the engine, so drop the tools instead.
		if servers != nil {
			servers.CloseAll(ctx)
		}
		return nil
	}
	if len(allowed) < len(all) {
		rt.allowed = allowed
	}
	rt.builtins = builtins
	rt.servers = servers
	return nil
}

func publishServerStatus(bus *event.Bus) mcp.StatusFunc {
	return func(u mcp.StatusUpdate) {
		bus.Publish(event.ToolServerStatus{Server: u.Server, State: string(u.State), Tools: u.Tools, Error: u.Error})
	}
}

// loadSeed reads the conversation to continue from --seed or --resume.
func (rt *agentRun) loadSeed(ctx context.Context, f *runFlags) ([]transcript.Turn, error) {
	var tr event.Trace
	var err error
	switch {
	case f.Seed != "" && f.Resume != "":
		return nil, &config.ConfigError{Field: "seed", Err: fmt.Errorf("--seed and --resume are exclusive")}
	case f.Seed != "":
		tr, err = event.ReadFile(f.Seed)
	case f.Resume != "":
		var run *session.Run
		if run, err = rt.store.Get(ctx, f.Resume); err != nil {
			return nil, fmt.Errorf("resume %s: %w", f.Resume, err)
		}
		var data []byte
		if data, err = rt.store.LoadTrace(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("resume %s: %w", f.Resume, err)
		}
		tr, err = event.Decode(data)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	var seq transcript.Sequencer
	return event.Seed(tr, &seq), nil
}

// newEngine starts a conversation on bus.
func (rt *agentRun) newEngine(bus *event.Bus, seed []transcript.Turn) (*conversation.Engine, error) {
	opts := conversation.Options{
		Provider:      rt.provider,
		Config:        rt.pc,
		AllowedTools:  rt.allowed,
		Bus:           bus,
		SystemPrompt:  rt.systemPrompt,
		Context:       rt.context,
		Seed:          seed,
		MaxToolRounds: rt.maxRounds,
		CancelGrace:   rt.cfg.CancelGrace,
		AutoCompact:   rt.cfg.AutoCompact,
	}
	// Typed nils must not reach the engine's interfaces.
	if rt.builtins != nil {
		opts.Builtins = rt.builtins
	}
	if rt.servers != nil {
		opts.Servers = rt.servers
	}
	return conversation.New(opts)
}

func (rt *agentRun) close() {
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.debugLog != nil {
		rt.debugLog.Close()
	}
}

func openDebugLog(runID string) (*llm.DebugLogger, error) {
	dir, err := config.GetDataDir()
	if err != nil {
		return nil, err
	}
	l, err := llm.NewDebugLogger(filepath.Join(dir, "debug"), runID)
	if err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	l.LogRunStart(os.Args, cwd)
	return l, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
