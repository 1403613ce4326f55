package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/samsaffron/term-agent/internal/event"
)

func plainTerminal() Terminal {
	return Terminal{Width: 80, Profile: termenv.Ascii}
}

func feed(h func(event.Event), payloads ...event.Payload) {
	for i, p := range payloads {
		h(event.Event{Seq: int64(i + 1), Time: time.Now(), Payload: p})
	}
}

func TestInteractiveResponseAndTools(t *testing.T) {
	var out bytes.Buffer
	r := NewInteractive(&out, plainTerminal())
	feed(r.Handle,
		event.TurnStarted{TurnSeq: 2, Input: "list files"},
		event.StateChanged{From: "idle", To: "awaiting_model"},
		event.ModelChunk{Text: "Checking the directory.\n<tool_call>\n"},
		event.ModelChunk{Text: `{"name":"list_files","arguments":{}}` + "\n</tool_call>"},
		event.StateChanged{From: "awaiting_model", To: "parsing_response"},
		event.ToolInvoked{CallID: "call_1", Name: "list_files", Arguments: json.RawMessage(`{"path": "."}`)},
		event.ToolCompleted{CallID: "call_1", Name: "list_files", Status: "success", Output: "a\nb\nc\nd\ne\nf", Duration: 12 * time.Millisecond},
		event.ToolInvoked{CallID: "call_2", Name: "read_file", Preview: "read missing.txt"},
		event.ToolCompleted{CallID: "call_2", Name: "read_file", Status: "error", ErrKind: "not_found", Output: "no such file"},
		event.ConversationEnded{State: "idle", Turns: 4},
	)

	got := ansi.Strip(out.String())
	for _, want := range []string{
		"Checking the directory.",
		`● list_files {"path": "."}`,
		"✓ list_files 12ms",
		"    a",
		"… 2 more lines",
		"● read_file read missing.txt",
		"✗ read_file not_found",
		"no such file",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "<tool_call>") || strings.Contains(got, "    e") {
		t.Errorf("output shows hidden content:\n%s", got)
	}
	if r.Stats().ToolCalls != 2 || r.Stats().Turns != 1 {
		t.Errorf("stats = %+v", *r.Stats())
	}
}

func TestInteractiveNotices(t *testing.T) {
	tests := []struct {
		name    string
		payload event.Payload
		want    string
	}{
		{"trimmed", event.TrimmedContext{Dropped: []int64{1, 2}, CostBefore: 120, CostAfter: 80, Budget: 100}, "context trimmed: dropped 2 turns (120 -> 80 of 100 tokens)"},
		{"rounds", event.BudgetExceeded{Reason: "max_tool_rounds", Rounds: 25}, "budget exceeded: max_tool_rounds (25 tool rounds)"},
		{"tokens", event.BudgetExceeded{Reason: "pinned_over_budget", Budget: 100, Needed: 140}, "(need 140 of 100 tokens)"},
		{"cancelled", event.Cancelled{Phase: "awaiting_tool_results"}, "cancelled while awaiting tool results"},
		{"errored", event.Errored{Message: "provider unreachable", ErrKind: "provider"}, "error: provider unreachable"},
		{"compacted", event.Compacted{Before: 11, After: 8}, "compacted history: 11 -> 8 turns"},
		{"server", event.ToolServerStatus{Server: "git", State: "dead", Error: "exit status 1"}, "tool server git dead: exit status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			r := NewInteractive(&out, plainTerminal())
			feed(r.Handle, tt.payload)
			if got := ansi.Strip(out.String()); !strings.Contains(got, tt.want) {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInteractiveFlushesOnCancel(t *testing.T) {
	var out bytes.Buffer
	r := NewInteractive(&out, plainTerminal())
	feed(r.Handle,
		event.ModelChunk{Text: "Partial answ"},
		event.Cancelled{Phase: "awaiting_model"},
	)
	got := ansi.Strip(out.String())
	if i, j := strings.Index(got, "Partial answ"), strings.Index(got, "cancelled"); i < 0 || j < i {
		t.Errorf("partial text should precede the notice:\n%s", got)
	}
}

func TestInteractiveWait(t *testing.T) {
	r := NewInteractive(&bytes.Buffer{}, plainTerminal())

	done := make(chan error, 1)
	go func() {
		done <- r.Wait(context.Background(), 3)
	}()
	feed(r.Handle, event.ModelChunk{}, event.ModelChunk{}, event.ModelChunk{})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the event was handled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx, 10); err != context.Canceled {
		t.Errorf("Wait on cancelled context = %v", err)
	}
}

func TestStatsRender(t *testing.T) {
	s := NewStats()
	feed(s.Observe,
		event.TurnStarted{},
		event.ToolInvoked{Name: "a"},
		event.ToolCompleted{Name: "a", Duration: time.Second},
		event.Usage{TotalInputTokens: 1500, TotalOutputTokens: 310},
		event.TurnStarted{},
	)
	got := s.Render()
	for _, want := range []string{"(tools 1.0s)", "2 turns", "1.5k in / 310 out", "1 tools"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() = %q, missing %q", got, want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1000: "1k", 1540: "1.5k", 12345: "12k"}
	for n, want := range tests {
		if got := formatTokens(n); got != want {
			t.Errorf("formatTokens(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestJSONLines(t *testing.T) {
	var out bytes.Buffer
	j := NewJSONLines(&out)
	feed(j.Handle,
		event.TurnStarted{TurnSeq: 1, Input: "hi"},
		event.ToolCompleted{CallID: "call_1", Name: "echo", Status: "success", Output: "hi"},
	)

	var kinds []event.Kind
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var ev event.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		kinds = append(kinds, ev.Kind())
	}
	if len(kinds) != 2 || kinds[0] != event.KindTurnStarted || kinds[1] != event.KindToolCompleted {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestText(t *testing.T) {
	var out bytes.Buffer
	tx := NewText(&out)
	feed(tx.Handle,
		event.ModelChunk{Text: "Looking.<tool_call>{\"name\":\"x\",\"arguments\":{}}</tool_call>"},
		event.StateChanged{From: "awaiting_model", To: "parsing_response"},
		event.ModelChunk{Text: "Done."},
		event.StateChanged{From: "awaiting_model", To: "parsing_response"},
	)
	if got := out.String(); got != "Looking.\nDone.\n" {
		t.Errorf("output = %q", got)
	}
}
