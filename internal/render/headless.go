package render

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/toolcall"
)

// JSONLines writes every event as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines returns a handler writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Handle is a bus handler.
func (j *JSONLines) Handle(ev event.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(ev); err != nil {
		slog.Debug("event encode failed", "seq", ev.Seq, "kind", ev.Kind(), "error", err)
	}
}

// Text writes the visible assistant text of each response, unstyled.
type Text struct {
	out io.Writer

	mu  sync.Mutex
	buf strings.Builder
}

// NewText returns a handler writing to out.
func NewText(out io.Writer) *Text {
	return &Text{out: out}
}

// Handle is a bus handler.
func (t *Text) Handle(ev event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch p := ev.Payload.(type) {
	case event.ModelChunk:
		t.buf.WriteString(p.Text)
	case event.StateChanged:
		if p.From == "awaiting_model" {
			t.flush()
		}
	case event.ConversationEnded:
		t.flush()
	}
}

func (t *Text) flush() {
	text := toolcall.VisibleText(t.buf.String())
	t.buf.Reset()
	if text != "" {
		fmt.Fprintln(t.out, text)
	}
}
