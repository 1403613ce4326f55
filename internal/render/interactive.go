package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/toolcall"
)

// maxOutputLines is how many lines of tool output are echoed.
const maxOutputLines = 4

// Interactive renders events for a person at a terminal. Assistant text is
// buffered until the response is complete and then rendered as markdown.
type Interactive struct {
	out    io.Writer
	width  int
	styles Styles
	md     *Markdown
	stats  *Stats

	mu     sync.Mutex
	text   strings.Builder
	seen   int64
	notify chan struct{}
}

// NewInteractive returns a renderer writing to out.
func NewInteractive(out io.Writer, t Terminal) *Interactive {
	return &Interactive{
		out:    out,
		width:  t.Width,
		styles: NewStyles(out, t.Profile, DefaultTheme()),
		md:     NewMarkdown(t.Profile),
		stats:  NewStats(),
		notify: make(chan struct{}),
	}
}

// Styles returns the renderer's styles.
func (r *Interactive) Styles() Styles {
	return r.styles
}

// Stats returns the statistics gathered so far.
func (r *Interactive) Stats() *Stats {
	return r.stats
}

// Handle is a bus handler.
func (r *Interactive) Handle(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.advance(ev.Seq)

	r.stats.Observe(ev)
	switch p := ev.Payload.(type) {
	case event.ModelChunk:
		r.text.WriteString(p.Text)
	case event.StateChanged:
		if p.From == "awaiting_model" {
			r.flush()
		}
	case event.ToolInvoked:
		r.flush()
		r.println(r.styles.Tool.Render("● "+p.Name) + " " + r.styles.Muted.Render(r.clip(invocationSummary(p), 4+len(p.Name))))
	case event.ToolCompleted:
		r.toolCompleted(p)
	case event.TrimmedContext:
		r.println(r.styles.Warning.Render(fmt.Sprintf("context trimmed: dropped %d %s (%d -> %d of %d tokens)",
			len(p.Dropped), plural(len(p.Dropped), "turn"), p.CostBefore, p.CostAfter, p.Budget)))
	case event.BudgetExceeded:
		r.flush()
		msg := "budget exceeded: " + p.Reason
		switch {
		case p.Rounds > 0:
			msg += fmt.Sprintf(" (%d tool rounds)", p.Rounds)
		case p.Budget > 0:
			msg += fmt.Sprintf(" (need %d of %d tokens)", p.Needed, p.Budget)
		}
		r.println(r.styles.Error.Render(msg))
	case event.Cancelled:
		r.flush()
		r.println(r.styles.Warning.Render("cancelled while " + strings.ReplaceAll(p.Phase, "_", " ")))
	case event.Errored:
		r.flush()
		r.println(r.styles.Error.Render("error: " + p.Message))
	case event.Retrying:
		r.println(r.styles.Muted.Render(fmt.Sprintf("retrying (%d/%d) in %.0fs", p.Attempt, p.MaxAttempts, p.WaitSecs)))
	case event.Compacted:
		r.println(r.styles.Muted.Render(fmt.Sprintf("compacted history: %d -> %d turns", p.Before, p.After)))
	case event.ToolServerStatus:
		if p.Error != "" {
			r.println(r.styles.Warning.Render(fmt.Sprintf("tool server %s %s: %s", p.Server, p.State, p.Error)))
		}
	case event.ConversationEnded:
		r.flush()
	}
}

func (r *Interactive) toolCompleted(p event.ToolCompleted) {
	head := r.styles.Success.Render("  ✓ " + p.Name)
	if p.Status != "success" {
		label := p.Status
		if p.ErrKind != "" {
			label = p.ErrKind
		}
		head = r.styles.Error.Render("  ✗ "+p.Name) + " " + r.styles.Warning.Render(label)
	}
	r.println(head + " " + r.styles.Muted.Render(p.Duration.Round(time.Millisecond).String()))

	lines := outputLines(p.Output)
	if len(lines) == 0 {
		return
	}
	shown := lines[:min(len(lines), maxOutputLines)]
	for i, l := range shown {
		shown[i] = r.clip(l, 4)
	}
	if rest := len(lines) - len(shown); rest > 0 {
		shown = append(shown, fmt.Sprintf("… %d more %s", rest, plural(rest, "line")))
	}
	r.println(r.styles.Muted.Render(indent.String(strings.Join(shown, "\n"), 4)))
}

// flush renders buffered assistant text. Chat-mode tool blocks are not shown.
func (r *Interactive) flush() {
	text := toolcall.VisibleText(r.text.String())
	r.text.Reset()
	if text == "" {
		return
	}
	r.println(r.md.Render(text, r.width))
}

func (r *Interactive) println(s string) {
	fmt.Fprintln(r.out, s)
}

// clip fits s on one line after reserving used columns.
func (r *Interactive) clip(s string, used int) string {
	return runewidth.Truncate(s, max(r.width-used, 10), "…")
}

func (r *Interactive) advance(seq int64) {
	if seq <= r.seen {
		return
	}
	r.seen = seq
	close(r.notify)
	r.notify = make(chan struct{})
}

// Wait blocks until the event numbered seq has been rendered or ctx ends.
func (r *Interactive) Wait(ctx context.Context, seq int64) error {
	for {
		r.mu.Lock()
		if r.seen >= seq {
			r.mu.Unlock()
			return nil
		}
		ch := r.notify
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func invocationSummary(p event.ToolInvoked) string {
	if p.Preview != "" {
		return p.Preview
	}
	return strings.Join(strings.Fields(string(p.Arguments)), " ")
}

// outputLines returns the non-empty lines of tool output without escape
// sequences.
func outputLines(out string) []string {
	out = strings.TrimSpace(ansi.Strip(out))
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
