package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/render"
	"github.com/samsaffron/term-agent/internal/session"
	"github.com/samsaffron/term-agent/internal/signal"
)

// closeTimeout bounds tool server shutdown at the end of a run.
const closeTimeout = 5 * time.Second

// busBuffer is the per-renderer event queue. A renderer that falls further
// behind than this is dropped by the bus.
const busBuffer = 16 * event.DefaultBufferSize

var errEmptyPrompt = errors.New("empty prompt")

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && render.Detect(os.Stdin).TTY {
		return runInteractive(cmd.Context(), &runOpts, os.Stdin, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	prompt := strings.Join(args, " ")
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errEmptyPrompt
	}
	if len(args) > 0 && isStream(os.Stdin) {
		var cancel context.CancelFunc
		ctx, cancel = watchInput(ctx, os.Stdin)
		defer cancel()
	}
	return runHeadless(ctx, &runOpts, prompt, os.Stdout, os.Stderr)
}

// isStream reports whether f is a pipe or socket, as opposed to a terminal,
// a regular file or /dev/null.
func isStream(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&(os.ModeNamedPipe|os.ModeSocket) != 0
}

// watchInput returns a context that is cancelled once r reaches EOF or fails.
// A headless run whose input stream is closed by the other end stops the
// same way it does on SIGINT.
func watchInput(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		_, err := io.Copy(io.Discard, r)
		if ctx.Err() == nil {
			slog.Debug("input stream closed, cancelling run", "error", err)
		}
		cancel()
	}()
	return ctx, cancel
}

// runHeadless answers one prompt. Events go to stderr as JSON lines and the
// answer to stdout, unless stdout carries the trace.
func runHeadless(ctx context.Context, f *runFlags, prompt string, stdout, stderr io.Writer) error {
	bus := event.NewBus(busBuffer)
	bus.Subscribe("jsonl", render.NewJSONLines(stderr).Handle)
	if !f.Trace {
		bus.Subscribe("text", render.NewText(stdout).Handle)
	}

	rt, err := newAgentRun(ctx, f, bus)
	if err != nil {
		bus.Close()
		return err
	}
	defer rt.close()
	rec := event.NewRecorder(bus, rt.runID)

	eng, err := rt.newEngine(bus, rt.seed)
	if err != nil {
		rt.closeServers()
		bus.Close()
		return err
	}
	rt.begin(ctx, prompt)
	runErr := eng.Submit(ctx, prompt)
	return rt.finish(eng, bus, rec, runErr, stdout)
}

// begin records the run in the history store.
func (rt *agentRun) begin(ctx context.Context, prompt string) {
	cwd, _ := os.Getwd()
	rt.recorded = true
	rt.store.Create(ctx, &session.Run{
		ID:         rt.runID,
		Agent:      rt.agent.Name,
		Provider:   rt.pc.ID,
		Model:      rt.pc.Model,
		ToolMethod: string(rt.pc.ToolMethod),
		Summary:    session.TruncateSummary(prompt),
		CWD:        cwd,
		Status:     session.StatusActive,
	})
}

// finish closes the conversation and the bus, then stores and writes the
// trace. It returns runErr joined with any trace write failure.
func (rt *agentRun) finish(eng *conversation.Engine, bus *event.Bus, rec *event.Recorder, runErr error, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		slog.Warn("closing conversation", "error", err)
	}
	bus.Close()

	tr := rec.Trace(eng.Snapshot())
	data, err := event.Encode(tr, rt.traceOpts)
	if err != nil {
		return errors.Join(runErr, err)
	}
	h, err := event.VerifyHeader(data)
	if err != nil {
		return errors.Join(runErr, err)
	}

	if rt.recorded {
		final := tr.Final
		rt.store.Finish(ctx, rt.runID, runStatus(runErr), session.Metrics{
			Rounds:       final.Rounds,
			InputTokens:  final.Usage.InputTokens,
			OutputTokens: final.Usage.OutputTokens,
		}, data, h.Digest)
	}

	if rt.traceFile != "" {
		if err := event.WriteEncoded(rt.traceFile, data); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if rt.traceStdout {
		if _, err := fmt.Fprintf(stdout, "%s\n", data); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func (rt *agentRun) closeServers() {
	if rt.servers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := rt.servers.CloseAll(ctx); err != nil {
		slog.Warn("closing tool servers", "error", err)
	}
}

func runStatus(err error) session.RunStatus {
	switch {
	case err == nil:
		return session.StatusComplete
	case errors.Is(err, conversation.ErrBudgetExceeded):
		return session.StatusBudget
	case errors.Is(err, conversation.ErrCancelled), errors.Is(err, context.Canceled):
		return session.StatusCancelled
	}
	return session.StatusError
}
