// Package conversation drives the turn loop: it sends the trimmed
// transcript to a provider, normalizes tool calls, dispatches them and feeds
// the results back until the model answers in plain text or the run stops
// on a budget, an error or cancellation.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/toolcall"
	"github.com/samsaffron/term-agent/internal/transcript"
	"github.com/samsaffron/term-agent/internal/window"
)

const (
	DefaultMaxToolRounds = 25
	DefaultCancelGrace   = 3 * time.Second

	// autoCompactRatio is the share of the budget that accumulated usage
	// must reach before the next prompt compacts the history.
	autoCompactRatio = 0.9
)

// Builtins runs local tools.
type Builtins interface {
	Descriptors() []toolcall.Descriptor
	Run(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolServers routes calls to external tool server sessions.
type ToolServers interface {
	Descriptors(reserved ...string) []toolcall.Descriptor
	Call(ctx context.Context, d toolcall.Descriptor, args map[string]any) (string, error)
	CloseAll(ctx context.Context) error
}

// previewer is implemented by built-in registries that can summarize a call.
type previewer interface {
	Preview(name string, args json.RawMessage) string
}

// Options configure an Engine.
type Options struct {
	Provider llm.Provider
	Config   *config.ProviderConfig

	// Builtins and Servers may be nil to run without that kind of tool.
	Builtins Builtins
	Servers  ToolServers
	// AllowedTools restricts the catalog to these names. Empty allows all.
	AllowedTools []string

	// Bus receives every event. A bus passed in stays open after Close;
	// when nil the engine creates and owns one.
	Bus *event.Bus

	SystemPrompt string
	// Context holds pinned project context turns placed after the system
	// prompt.
	Context []transcript.Turn
	// Seed holds turns from an earlier run placed after the pinned context.
	Seed []transcript.Turn

	MaxToolRounds int
	CancelGrace   time.Duration
	AutoCompact   bool
	Estimator     window.Estimator
}

// Engine owns one conversation. Submit, Compact and Close are meant to be
// called from a single goroutine; Cancel and Snapshot are safe from any.
type Engine struct {
	provider  llm.Provider
	cfg       config.ProviderConfig
	strategy  toolcall.Strategy
	catalog   *toolcall.Catalog
	builtins  Builtins
	servers   ToolServers
	bus       *event.Bus
	ownsBus   bool
	estimator window.Estimator
	maxRounds int
	grace     time.Duration
	autoComp  bool

	mu           sync.Mutex
	state        State
	reason       Reason
	turns        []transcript.Turn
	seq          transcript.Sequencer
	usage        llm.Usage
	sinceCompact int
	rounds       int
	cancel       context.CancelCauseFunc
	busy         chan struct{}
	closed       bool

	// signatures holds the call signature of recent rounds of the current
	// prompt, newest last.
	signatures []string
}

// New creates an engine in the Idle state.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, errors.New("conversation: provider is required")
	}
	if opts.Config == nil {
		return nil, errors.New("conversation: provider config is required")
	}
	strategy, err := toolcall.ForMethod(opts.Config.ToolMethod)
	if err != nil {
		return nil, err
	}
	if opts.Config.ToolMethod == config.ToolMethodFunctionCall && !opts.Provider.Capabilities().ToolCalls {
		return nil, &config.ConfigError{
			Field: "tool_method",
			Err:   fmt.Errorf("provider %s has no native tool calling; use %q", opts.Provider.Name(), config.ToolMethodChat),
		}
	}

	e := &Engine{
		provider:  opts.Provider,
		cfg:       *opts.Config,
		strategy:  strategy,
		builtins:  opts.Builtins,
		servers:   opts.Servers,
		bus:       opts.Bus,
		estimator: opts.Estimator,
		maxRounds: opts.MaxToolRounds,
		grace:     opts.CancelGrace,
		autoComp:  opts.AutoCompact,
		state:     StateIdle,
	}
	if e.bus == nil {
		e.bus = event.NewBus(0)
		e.ownsBus = true
	}
	if e.estimator == nil {
		e.estimator = window.DefaultEstimator
	}
	if e.maxRounds <= 0 {
		e.maxRounds = DefaultMaxToolRounds
	}
	if e.grace <= 0 {
		e.grace = DefaultCancelGrace
	}
	e.catalog = buildCatalog(opts.Builtins, opts.Servers, opts.AllowedTools)

	if opts.SystemPrompt != "" {
		e.appendTurn(transcript.Turn{Role: transcript.RoleSystem, Message: llm.SystemText(opts.SystemPrompt), Pin: transcript.PinSystem, Name: "system"})
	}
	for _, t := range opts.Context {
		if t.Pin == transcript.PinNone {
			t.Pin = transcript.PinProjectContext
		}
		t.Cost = 0
		e.appendTurn(t)
	}
	for _, t := range transcript.Clone(opts.Seed) {
		t.Cost = 0
		e.appendTurn(t)
		for _, id := range t.Calls {
			e.strategy.ObserveID(id)
		}
	}
	return e, nil
}

func buildCatalog(builtins Builtins, servers ToolServers, allowed []string) *toolcall.Catalog {
	allow := func(name string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == name {
				return true
			}
		}
		return false
	}

	var descs, local []toolcall.Descriptor
	var reserved []string
	if builtins != nil {
		local = builtins.Descriptors()
	}
	for _, d := range local {
		reserved = append(reserved, d.Name)
		if allow(d.Name) {
			descs = append(descs, d)
		}
	}
	if servers != nil {
		for _, d := range servers.Descriptors(reserved...) {
			if allow(d.Name) {
				descs = append(descs, d)
			}
		}
	}
	return toolcall.NewCatalog(descs...)
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Catalog returns the tools offered to the model.
func (e *Engine) Catalog() []toolcall.Descriptor {
	return e.catalog.Descriptors()
}

// State returns the current state and, when Terminal, its reason.
func (e *Engine) State() (State, Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.reason
}

// Snapshot returns a copy of the conversation.
func (e *Engine) Snapshot() event.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return event.Snapshot{
		Provider:   e.provider.Name(),
		Model:      e.cfg.Model,
		ToolMethod: string(e.cfg.ToolMethod),
		Budget:     e.cfg.MaxContextTokens,
		State:      string(e.state),
		Reason:     string(e.reason),
		Rounds:     e.rounds,
		Usage:      e.usage,
		Turns:      transcript.Clone(e.turns),
	}
}

// Submit runs one user prompt until the model answers without tool calls
// (the engine returns to Idle) or the conversation terminates. It returns
// ErrCancelled, ErrBudgetExceeded or a provider error for the matching
// terminal reasons.
func (e *Engine) Submit(ctx context.Context, input string) error {
	done, err := e.acquire()
	if err != nil {
		return err
	}
	defer done()

	if e.shouldAutoCompact() {
		if err := e.compact(ctx); err != nil {
			slog.Warn("auto-compaction failed", "error", err)
		}
	}

	pctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e.mu.Lock()
	e.cancel = cancel
	e.signatures = nil
	e.mu.Unlock()

	turn := e.appendTurn(transcript.Turn{Role: transcript.RoleUser, Message: llm.UserText(input)})
	e.bus.Publish(event.TurnStarted{TurnSeq: turn.Seq, Input: input})
	if err := e.transition(StateAwaitingModel, ReasonNone); err != nil {
		return err
	}
	return e.run(pctx)
}

// acquire marks the engine busy. The returned func releases it.
func (e *Engine) acquire() (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.state == StateTerminal || e.closed:
		return nil, ErrTerminal
	case e.busy != nil:
		return nil, ErrBusy
	}
	busy := make(chan struct{})
	e.busy = busy
	return func() {
		e.mu.Lock()
		e.busy = nil
		e.cancel = nil
		e.mu.Unlock()
		close(busy)
	}, nil
}

// Cancel aborts the running prompt. It is a no-op while Idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(ErrCancelled)
	}
}

func (e *Engine) run(ctx context.Context) error {
	rounds := 0
	for {
		resp, err := e.request(ctx)
		if err != nil {
			return e.fail(ctx, err)
		}
		if err := e.transition(StateParsingResponse, ReasonNone); err != nil {
			return err
		}

		out := e.strategy.Normalize(resp, e.catalog)
		if !out.HasCalls() {
			e.appendTurn(transcript.Turn{Role: transcript.RoleAssistant, Message: out.Message})
			return e.transition(StateIdle, ReasonNone)
		}
		e.appendTurn(transcript.Turn{Role: transcript.RoleAssistant, Message: out.Message, Calls: out.Issued})
		if err := e.transition(StateDispatchingTools, ReasonNone); err != nil {
			return err
		}

		results, synthesized, err := e.dispatch(ctx, out)
		if err != nil {
			return err
		}
		if err := e.transition(StateAppendingResults, ReasonNone); err != nil {
			return err
		}
		results = e.noteRepeats(out.Calls, results)
		e.appendTurn(transcript.Turn{Role: transcript.RoleToolResult, Message: e.strategy.ResultMessage(results), Calls: out.Issued})

		rounds++
		e.mu.Lock()
		e.rounds++
		e.mu.Unlock()

		if ctx.Err() != nil {
			return e.cancelled("tools", synthesized)
		}
		if rounds >= e.maxRounds {
			return e.budgetExceeded(event.BudgetExceeded{Reason: "max_tool_rounds", Rounds: rounds})
		}
		if err := e.transition(StateAwaitingModel, ReasonNone); err != nil {
			return err
		}
	}
}

// request trims the transcript, sends it and drains the response.
func (e *Engine) request(ctx context.Context) (llm.Response, error) {
	rendering := e.strategy.RenderCatalog(e.catalog)
	pending := window.TextCost(e.estimator, rendering.SystemAddendum) + e.specsCost(rendering.Specs)
	if err := e.trim(pending); err != nil {
		return llm.Response{}, err
	}

	req := llm.Request{
		Model:    e.cfg.Model,
		Messages: e.messages(rendering.SystemAddendum),
		Tools:    rendering.Specs,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := llm.Drain(ctx, stream,
		func(text string) { e.bus.Publish(event.ModelChunk{Text: text}) },
		func(ev llm.Event) {
			e.bus.Publish(event.Retrying{Attempt: ev.RetryAttempt, MaxAttempts: ev.RetryMaxAttempts, WaitSecs: ev.RetryWaitSecs})
		},
	)
	if resp.Usage != nil {
		e.addUsage(*resp.Usage)
	}
	return resp, err
}

func (e *Engine) specsCost(specs []llm.ToolSpec) int {
	if len(specs) == 0 {
		return 0
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return 0
	}
	return window.TextCost(e.estimator, string(data))
}

// trim drops old turns so the request fits the budget.
func (e *Engine) trim(pending int) error {
	e.mu.Lock()
	kept, report, err := window.Trim(e.turns, pending, e.cfg.MaxContextTokens)
	if err == nil {
		e.turns = kept
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if report.Trimmed() {
		e.bus.Publish(event.TrimmedContext{
			Dropped:    report.Dropped,
			CostBefore: report.CostBefore,
			CostAfter:  report.CostAfter,
			Pending:    report.Pending,
			Budget:     report.Budget,
		})
	}
	return nil
}

// messages builds the provider messages. A catalog addendum is placed after
// the leading system turns.
func (e *Engine) messages(addendum string) []llm.Message {
	e.mu.Lock()
	msgs := transcript.Messages(e.turns)
	e.mu.Unlock()
	if addendum != "" {
		at := 0
		for at < len(msgs) && msgs[at].Role == llm.RoleSystem {
			at++
		}
		msgs = append(msgs[:at], append([]llm.Message{llm.SystemText(addendum)}, msgs[at:]...)...)
	}
	return llm.SanitizeToolHistory(msgs)
}

func (e *Engine) addUsage(u llm.Usage) {
	e.mu.Lock()
	e.usage.InputTokens += u.InputTokens
	e.usage.OutputTokens += u.OutputTokens
	e.sinceCompact += u.InputTokens + u.OutputTokens
	total := e.usage
	e.mu.Unlock()
	e.bus.Publish(event.Usage{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		TotalInputTokens:  total.InputTokens,
		TotalOutputTokens: total.OutputTokens,
	})
}

func (e *Engine) shouldAutoCompact() bool {
	if !e.autoComp || e.cfg.MaxContextTokens <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.sinceCompact) >= autoCompactRatio*float64(e.cfg.MaxContextTokens)
}

// appendTurn assigns the next Seq and memoizes the cost.
func (e *Engine) appendTurn(t transcript.Turn) transcript.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.Seq = e.seq.Next()
	if t.Cost == 0 {
		t.Cost = e.estimator.Cost(t.Message)
	}
	e.turns = append(e.turns, t)
	return t
}

func (e *Engine) transition(to State, reason Reason) error {
	e.mu.Lock()
	from := e.state
	if err := checkTransition(from, to); err != nil {
		e.mu.Unlock()
		slog.Error("engine transition rejected", "from", from, "to", to)
		return err
	}
	e.state = to
	if to == StateTerminal {
		e.reason = reason
	}
	e.mu.Unlock()
	e.bus.Publish(event.StateChanged{From: string(from), To: string(to), Reason: string(reason)})
	return nil
}

// fail terminates the prompt after a request error.
func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return e.cancelled("model", 0)
	}
	if errors.Is(err, window.ErrPinnedOverBudget) {
		e.mu.Lock()
		needed := transcript.TotalCost(e.turns)
		e.mu.Unlock()
		return e.budgetExceeded(event.BudgetExceeded{Reason: "pinned_over_budget", Budget: e.cfg.MaxContextTokens, Needed: needed})
	}
	if pe, ok := llm.AsProviderError(err); ok && pe.Kind == llm.ErrorContextLength {
		return e.budgetExceeded(event.BudgetExceeded{Reason: "context_length", Budget: e.cfg.MaxContextTokens})
	}

	kind := string(llm.ErrorFatal)
	if pe, ok := llm.AsProviderError(err); ok {
		kind = string(pe.Kind)
	}
	if terr := e.transition(StateTerminal, ReasonErrored); terr != nil {
		return errors.Join(err, terr)
	}
	e.bus.Publish(event.Errored{Message: err.Error(), ErrKind: kind})
	return fmt.Errorf("model request failed: %w", err)
}

func (e *Engine) cancelled(phase string, synthesized int) error {
	if err := e.transition(StateTerminal, ReasonCancelled); err != nil {
		return err
	}
	e.bus.Publish(event.Cancelled{Phase: phase, Synthesized: synthesized})
	return ErrCancelled
}

func (e *Engine) budgetExceeded(ev event.BudgetExceeded) error {
	if err := e.transition(StateTerminal, ReasonBudgetExceeded); err != nil {
		return err
	}
	e.bus.Publish(ev)
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, ev.Reason)
}

// Close cancels any running prompt, closes tool sessions, publishes
// ConversationEnded and closes the bus if the engine created it. It is safe
// to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	busy, cancel := e.busy, e.cancel
	e.mu.Unlock()

	if busy != nil {
		if cancel != nil {
			cancel(ErrCancelled)
		}
		<-busy
	}

	var err error
	if e.servers != nil {
		err = e.servers.CloseAll(ctx)
	}
	if state, _ := e.State(); state != StateTerminal {
		if terr := e.transition(StateTerminal, ReasonEnded); terr != nil {
			err = errors.Join(err, terr)
		}
	}
	snap := e.Snapshot()
	e.bus.Publish(event.ConversationEnded{State: snap.State, Reason: snap.Reason, Turns: len(snap.Turns)})
	if e.ownsBus {
		e.bus.Close()
	}
	return err
}
