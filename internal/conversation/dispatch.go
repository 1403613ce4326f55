package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/mcp"
	"github.com/samsaffron/term-agent/internal/toolcall"
	"github.com/samsaffron/term-agent/internal/tools"
)

// repeatRounds is how many consecutive identical rounds trigger a note to
// the model.
const repeatRounds = 3

const repeatNote = "\n\n[Note: these exact tool calls have now been made %d rounds in a row with the same arguments. " +
	"Change approach or answer with what you already have.]"

// errCallCancelled is the error of results synthesized for calls that did
// not finish within the cancel grace period.
var errCallCancelled = errors.New("call cancelled before it completed")

// dispatch starts every accepted call concurrently and joins them. Rejected
// calls are answered immediately. After cancellation, calls still running
// when the grace period ends get a synthesized cancelled result. Results are
// returned in the order the model issued the calls.
func (e *Engine) dispatch(ctx context.Context, out toolcall.Outcome) ([]toolcall.Result, int, error) {
	byID := make(map[string]toolcall.Result, len(out.Issued))
	for _, r := range out.Rejected {
		byID[r.CallID] = r
		e.publishCompleted(r, 0)
	}

	calls := out.Calls
	for _, call := range calls {
		ev := event.ToolInvoked{CallID: call.ID, Name: call.Name, Target: call.Target.String(), Arguments: call.Arguments()}
		if p, ok := e.builtins.(previewer); ok && call.Target.Kind == toolcall.TargetBuiltIn {
			ev.Preview = p.Preview(call.Name, call.Arguments())
		}
		e.bus.Publish(ev)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]toolcall.Result, len(calls))
		done    = make([]bool, len(calls))
	)
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			r := e.invoke(ctx, call)
			mu.Lock()
			defer mu.Unlock()
			if done[i] {
				return
			}
			done[i] = true
			results[i] = r
			e.publishCompleted(r, time.Since(start))
		}()
	}
	if err := e.transition(StateAwaitingToolResults, ReasonNone); err != nil {
		return nil, 0, err
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		timer := time.NewTimer(e.grace)
		select {
		case <-finished:
		case <-timer.C:
			slog.Warn("tool calls still running after cancel grace", "grace", e.grace)
		}
		timer.Stop()
	}

	synthesized := 0
	mu.Lock()
	for i, call := range calls {
		if done[i] {
			continue
		}
		done[i] = true
		results[i] = toolcall.Failure(call, toolcall.KindCancelled, errCallCancelled)
		synthesized++
		e.publishCompleted(results[i], 0)
	}
	for i, r := range results {
		byID[calls[i].ID] = r
	}
	mu.Unlock()

	ordered := make([]toolcall.Result, 0, len(out.Issued))
	for _, id := range out.Issued {
		ordered = append(ordered, byID[id])
	}
	return ordered, synthesized, nil
}

// invoke runs one call on its target. It never panics and always returns a
// result.
func (e *Engine) invoke(ctx context.Context, call toolcall.Call) (result toolcall.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			result = toolcall.Failure(call, toolcall.KindExecution, fmt.Errorf("tool panicked: %v", r))
		}
	}()

	var out string
	var err error
	switch call.Target.Kind {
	case toolcall.TargetBuiltIn:
		if e.builtins == nil {
			err = &toolcall.InvocationError{Tool: call.Name, Reason: "built-in tools are disabled"}
			break
		}
		out, err = e.builtins.Run(ctx, call.Name, call.Arguments())
	case toolcall.TargetToolServer:
		desc, ok := e.catalog.Lookup(call.Name)
		if !ok || e.servers == nil {
			err = &toolcall.InvocationError{Tool: call.Name, Reason: "unknown tool"}
			break
		}
		var args map[string]any
		args, err = call.Args.Map()
		if err != nil {
			err = &toolcall.InvocationError{Tool: call.Name, Reason: "bad arguments", Err: err}
			break
		}
		out, err = e.servers.Call(ctx, desc, args)
	default:
		err = &toolcall.InvocationError{Tool: call.Name, Reason: fmt.Sprintf("no route for target %q", call.Target.Kind)}
	}

	if err != nil {
		r := toolcall.Failure(call, classify(ctx, err), err)
		if out != "" {
			r.Output = out + "\n\n" + r.Output
		}
		return r
	}
	return toolcall.Success(call, out)
}

// classify maps a tool error to its result kind.
func classify(ctx context.Context, err error) toolcall.Kind {
	var inv *toolcall.InvocationError
	var perr *toolcall.ParseError
	var terr *tools.ToolError
	switch {
	case errors.As(err, &perr):
		return toolcall.KindParse
	case errors.As(err, &inv), errors.Is(err, mcp.ErrUnknownTool):
		return toolcall.KindInvocation
	case errors.Is(err, mcp.ErrToolUnavailable):
		return toolcall.KindUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled), ctx.Err() != nil:
		return toolcall.KindCancelled
	case errors.As(err, &terr) && terr.Type == tools.ErrInvalidParams:
		return toolcall.KindInvocation
	}
	return toolcall.KindExecution
}

func (e *Engine) publishCompleted(r toolcall.Result, took time.Duration) {
	e.bus.Publish(event.ToolCompleted{
		CallID:   r.CallID,
		Name:     r.Name,
		Status:   string(r.Status),
		ErrKind:  string(r.Kind),
		Output:   r.Output,
		Duration: took,
	})
}

// noteRepeats appends a note to the round's last result when the same set
// of calls has been made repeatRounds rounds in a row.
func (e *Engine) noteRepeats(calls []toolcall.Call, results []toolcall.Result) []toolcall.Result {
	sigs := make([]string, 0, len(calls))
	for _, c := range calls {
		sigs = append(sigs, c.Signature())
	}
	slices.Sort(sigs)
	sig := strings.Join(sigs, "\n")

	e.mu.Lock()
	e.signatures = append(e.signatures, sig)
	if len(e.signatures) > repeatRounds {
		e.signatures = e.signatures[len(e.signatures)-repeatRounds:]
	}
	repeated := sig != "" && len(e.signatures) == repeatRounds
	for _, s := range e.signatures {
		if s != sig {
			repeated = false
		}
	}
	e.mu.Unlock()

	if !repeated || len(results) == 0 {
		return results
	}
	slog.Warn("repeated tool calls detected", "rounds", repeatRounds, "calls", len(calls))
	last := &results[len(results)-1]
	last.Output += fmt.Sprintf(repeatNote, repeatRounds)
	return results
}
