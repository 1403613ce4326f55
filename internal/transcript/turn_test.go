package transcript

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samsaffron/term-agent/internal/llm"
)

func TestSequencer(t *testing.T) {
	var s Sequencer
	if got := s.Next(); got != 1 {
		t.Fatalf("first seq = %d, want 1", got)
	}
	s.Observe(10)
	if got := s.Next(); got != 11 {
		t.Fatalf("seq after observe = %d, want 11", got)
	}
	s.Observe(3)
	if got := s.Last(); got != 11 {
		t.Fatalf("observe must not move backwards, last = %d", got)
	}
}

func TestPinned(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want bool
	}{
		{"system role", Turn{Role: RoleSystem}, true},
		{"summary pin", Turn{Role: RoleUser, Pin: PinSummary}, true},
		{"project context", Turn{Role: RoleUser, Pin: PinProjectContext}, true},
		{"plain user", Turn{Role: RoleUser}, false},
		{"assistant", Turn{Role: RoleAssistant}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.turn.Pinned(); got != tt.want {
				t.Errorf("Pinned() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnanswered(t *testing.T) {
	turns := []Turn{
		{Seq: 1, Role: RoleUser},
		{Seq: 2, Role: RoleAssistant, Calls: []string{"a", "b"}},
		{Seq: 3, Role: RoleToolResult, Calls: []string{"a"}},
		{Seq: 4, Role: RoleAssistant, Calls: []string{"c"}},
	}
	if diff := cmp.Diff([]string{"b", "c"}, Unanswered(turns)); diff != "" {
		t.Errorf("Unanswered mismatch (-want +got):\n%s", diff)
	}
	turns = append(turns, Turn{Seq: 5, Role: RoleToolResult, Calls: []string{"b", "c"}})
	if open := Unanswered(turns); len(open) != 0 {
		t.Errorf("expected no open calls, got %v", open)
	}
}

func TestClone_Independent(t *testing.T) {
	orig := []Turn{{
		Seq:     1,
		Role:    RoleAssistant,
		Message: llm.AssistantWithCalls("x", []llm.ToolCall{{ID: "a", Name: "grep", Arguments: json.RawMessage(`{}`)}}),
		Calls:   []string{"a"},
	}}
	cp := Clone(orig)
	cp[0].Calls[0] = "z"
	cp[0].Message.Parts[1].ToolCall.Name = "shell"
	if orig[0].Calls[0] != "a" || orig[0].Message.Parts[1].ToolCall.Name != "grep" {
		t.Fatalf("clone shares state with original: %+v", orig[0])
	}
	if Clone(nil) != nil {
		t.Errorf("Clone(nil) should be nil")
	}
}

func TestLastUserIndexAndCost(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Cost: 5},
		{Role: RoleUser, Cost: 3},
		{Role: RoleAssistant, Cost: 4},
		{Role: RoleUser, Cost: 2},
		{Role: RoleAssistant, Cost: 1},
	}
	if got := LastUserIndex(turns); got != 3 {
		t.Errorf("LastUserIndex = %d, want 3", got)
	}
	if got := LastUserIndex(turns[:1]); got != -1 {
		t.Errorf("LastUserIndex without users = %d, want -1", got)
	}
	if got := TotalCost(turns); got != 15 {
		t.Errorf("TotalCost = %d, want 15", got)
	}
	if got := len(Messages(turns)); got != 5 {
		t.Errorf("Messages len = %d", got)
	}
}
