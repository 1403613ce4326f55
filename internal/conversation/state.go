package conversation

import (
	"errors"
	"fmt"
	"slices"
)

// State is a phase of the turn loop.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingModel       State = "awaiting_model"
	StateParsingResponse     State = "parsing_response"
	StateDispatchingTools    State = "dispatching_tools"
	StateAwaitingToolResults State = "awaiting_tool_results"
	StateAppendingResults    State = "appending_results"
	StateTerminal            State = "terminal"
)

// Reason says why a conversation reached Terminal.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonEnded          Reason = "ended"
	ReasonBudgetExceeded Reason = "budget_exceeded"
	ReasonCancelled      Reason = "cancelled"
	ReasonErrored        Reason = "errored"
)

var (
	// ErrTerminal is returned by operations on a finished conversation.
	ErrTerminal = errors.New("conversation has ended")
	// ErrBusy is returned when a prompt is submitted while another runs.
	ErrBusy = errors.New("conversation is busy")
	// ErrCancelled is returned when a prompt was cancelled.
	ErrCancelled = errors.New("cancelled")
	// ErrBudgetExceeded is returned when a prompt stopped on the token
	// budget or the tool round limit.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrIllegalTransition marks a transition missing from the table. It
	// always indicates a bug in the engine.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// allowed lists the legal successors of every state. Terminal is absorbing.
var allowed = map[State][]State{
	StateIdle:                {StateAwaitingModel, StateTerminal},
	StateAwaitingModel:       {StateParsingResponse, StateTerminal},
	StateParsingResponse:     {StateIdle, StateDispatchingTools, StateTerminal},
	StateDispatchingTools:    {StateAwaitingToolResults, StateTerminal},
	StateAwaitingToolResults: {StateAppendingResults, StateTerminal},
	StateAppendingResults:    {StateAwaitingModel, StateTerminal},
	StateTerminal:            nil,
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	return slices.Contains(allowed[from], to)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
