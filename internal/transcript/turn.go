// Package transcript defines the turn model shared by the conversation
// engine, the context window manager and the trace recorder.
package transcript

import (
	"slices"

	"github.com/samsaffron/term-agent/internal/llm"
)

// Role is the engine-level author of a turn. It is independent of the
// provider message role: in chat tool mode a ToolResult turn is sent to the
// model as user text.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Pin marks turns that trimming must keep.
type Pin string

const (
	PinNone           Pin = ""
	PinSystem         Pin = "system"
	PinProjectContext Pin = "project_context"
	PinSummary        Pin = "summary"
)

// Turn is one unit of conversation content.
type Turn struct {
	Seq     int64       `json:"seq"`
	Role    Role        `json:"role"`
	Message llm.Message `json:"message"`
	Cost    int         `json:"cost"`
	Pin     Pin         `json:"pin,omitempty"`
	// Name labels special turns ("summary", "project_doc", "shell_hook").
	Name string `json:"name,omitempty"`
	// Calls holds the tool call IDs issued by an assistant turn, or answered
	// by a tool result turn. Trimming uses it to keep pairs together.
	Calls []string `json:"calls,omitempty"`
}

// Pinned reports whether the turn is pinned by role or mark. The most recent
// user turn is also protected, but that depends on position and is decided
// by the window manager.
func (t Turn) Pinned() bool {
	return t.Role == RoleSystem || t.Pin != PinNone
}

// Text returns the concatenated text of the turn's message.
func (t Turn) Text() string {
	return t.Message.Text()
}

// Sequencer hands out strictly increasing sequence numbers. It never reuses
// a number, even after turns are dropped.
type Sequencer struct {
	last int64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	s.last++
	return s.last
}

// Last returns the most recently issued number.
func (s *Sequencer) Last() int64 {
	return s.last
}

// Observe advances the sequencer past seq so later numbers stay increasing.
func (s *Sequencer) Observe(seq int64) {
	if seq > s.last {
		s.last = seq
	}
}

// Messages returns the provider messages for turns, in order.
func Messages(turns []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Message)
	}
	return out
}

// TotalCost sums the memoized cost of turns.
func TotalCost(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += t.Cost
	}
	return total
}

// Clone deep-copies turns so the copy shares no slices with the original.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		t.Calls = slices.Clone(t.Calls)
		t.Message = llm.CloneMessage(t.Message)
		out[i] = t
	}
	return out
}

// Unanswered returns the IDs of calls issued by assistant turns that no tool
// result turn answers, in issue order.
func Unanswered(turns []Turn) []string {
	answered := make(map[string]bool)
	for _, t := range turns {
		if t.Role == RoleToolResult {
			for _, id := range t.Calls {
				answered[id] = true
			}
		}
	}
	var open []string
	for _, t := range turns {
		if t.Role != RoleAssistant {
			continue
		}
		for _, id := range t.Calls {
			if !answered[id] {
				open = append(open, id)
			}
		}
	}
	return open
}

// LastUserIndex returns the index of the most recent user turn, or -1.
func LastUserIndex(turns []Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
