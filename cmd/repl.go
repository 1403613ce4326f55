package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/render"
	"github.com/samsaffron/term-agent/internal/signal"
	"github.com/samsaffron/term-agent/internal/transcript"
)

// renderWait bounds how long the prompt waits for the renderer to catch up.
const renderWait = 2 * time.Second

const replHelp = `Commands:
  /compact  summarize older history to free context
  /clear    start over, keeping the system prompt and project context
  /exit     quit
Ctrl+C cancels the running prompt; press it twice to quit.`

// runInteractive reads prompts from in until EOF, /exit or a second
// interrupt. A cancelled prompt ends that conversation; the next prompt
// continues from a copy of it.
func runInteractive(parent context.Context, f *runFlags, in io.Reader, out *os.File) error {
	ctx, cancelRun := context.WithCancel(parent)
	defer cancelRun()

	bus := event.NewBus(busBuffer)
	r := render.NewInteractive(out, render.Detect(out))
	bus.Subscribe("interactive", r.Handle)

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
	var current atomic.Pointer[conversation.Engine]
	current.Store(eng)

	interrupts := signal.NewInterrupter(func() { current.Load().Cancel() }, cancelRun)
	defer interrupts.Stop()

	lines := readLines(in)
	styles := r.Styles()
	fmt.Fprintf(out, "%s\n", styles.Muted.Render(fmt.Sprintf("%s · %s · /help for commands", rt.agent.Name, rt.pc.Model)))

	started := false
	var runErr error
loop:
	for {
		fmt.Fprint(out, styles.Prompt.Render("> "))
		var line string
		select {
		case <-ctx.Done():
			runErr = conversation.ErrCancelled
			break loop
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				break loop
			}
			line = strings.TrimSpace(l)
		}
		interrupts.Reset()

		eng := current.Load()
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			break loop
		case "/help":
			fmt.Fprintln(out, styles.Muted.Render(replHelp))
			continue
		case "/clear":
			if err := eng.Clear(); err != nil {
				fmt.Fprintln(out, styles.Error.Render("clear: "+err.Error()))
			} else {
				fmt.Fprintln(out, styles.Muted.Render("conversation cleared"))
			}
			continue
		case "/compact":
			if err := eng.Compact(ctx); err != nil {
				fmt.Fprintln(out, styles.Error.Render("compact: "+err.Error()))
			}
			waitRendered(r, bus)
			continue
		}

		if !started {
			rt.begin(ctx, line)
			started = true
		}
		err := eng.Submit(ctx, line)
		waitRendered(r, bus)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrCancelled) && ctx.Err() == nil:
			next, nerr := rt.newEngine(bus, continueFrom(eng))
			if nerr != nil {
				runErr = nerr
				break loop
			}
			current.Store(next)
		default:
			runErr = err
			break loop
		}
	}

	err = rt.finish(current.Load(), bus, rec, runErr, out)
	fmt.Fprintln(out, styles.Muted.Render(r.Stats().Render()))
	return err
}

// continueFrom returns the turns of a terminated conversation, ready to
// seed the next one.
func continueFrom(eng *conversation.Engine) []transcript.Turn {
	var seq transcript.Sequencer
	return event.Seed(event.Trace{Final: eng.Snapshot()}, &seq)
}

func waitRendered(r *render.Interactive, bus *event.Bus) {
	ctx, cancel := context.WithTimeout(context.Background(), renderWait)
	defer cancel()
	r.Wait(ctx, bus.LastSeq())
}

// readLines delivers lines from r until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
