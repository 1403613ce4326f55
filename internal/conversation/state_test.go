package conversation

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateAwaitingModel, true},
		{StateIdle, StateTerminal, true},
		{StateIdle, StateDispatchingTools, false},
		{StateAwaitingModel, StateParsingResponse, true},
		{StateAwaitingModel, StateIdle, false},
		{StateParsingResponse, StateIdle, true},
		{StateParsingResponse, StateDispatchingTools, true},
		{StateParsingResponse, StateAwaitingModel, false},
		{StateDispatchingTools, StateAwaitingToolResults, true},
		{StateDispatchingTools, StateAppendingResults, false},
		{StateAwaitingToolResults, StateAppendingResults, true},
		{StateAppendingResults, StateAwaitingModel, true},
		{StateAppendingResults, StateIdle, false},
		{StateTerminal, StateIdle, false},
		{StateTerminal, StateTerminal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestEveryStateCanTerminate(t *testing.T) {
	for from := range allowed {
		if from == StateTerminal {
			continue
		}
		if !CanTransition(from, StateTerminal) {
			t.Errorf("%s cannot reach terminal", from)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := checkTransition(StateTerminal, StateIdle)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v", err)
	}
	if err.Error() != "illegal state transition: terminal -> idle" {
		t.Errorf("message = %q", err.Error())
	}
}
