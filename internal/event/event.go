// Package event carries everything observable about a run: a bus that
// delivers events to renderers and a recorder that turns the event log into
// a replayable trace.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind names an event type.
type Kind string

const (
	KindTurnStarted       Kind = "turn_started"
	KindModelChunk        Kind = "model_chunk"
	KindToolInvoked       Kind = "tool_invoked"
	KindToolCompleted     Kind = "tool_completed"
	KindTrimmedContext    Kind = "trimmed_context"
	KindBudgetExceeded    Kind = "budget_exceeded"
	KindConversationEnded Kind = "conversation_ended"
	KindCancelled         Kind = "cancelled"
	KindErrored           Kind = "errored"
	KindStateChanged      Kind = "state_changed"
	KindRetrying          Kind = "retrying"
	KindCompacted         Kind = "compacted"
	KindToolServerStatus  Kind = "tool_server_status"
	KindUsage             Kind = "usage"
)

// Payload is the typed body of an event.
type Payload interface {
	Kind() Kind
}

// Event is one immutable entry of the event log.
type Event struct {
	Seq     int64
	Time    time.Time
	Payload Payload
}

// Kind returns the payload's kind.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// TurnStarted is published when a user prompt is accepted.
type TurnStarted struct {
	TurnSeq int64  `json:"turn_seq" cbor:"turn_seq"`
	Input   string `json:"input" cbor:"input"`
}

// ModelChunk carries streamed assistant text.
type ModelChunk struct {
	Text string `json:"text" cbor:"text"`
}

// ToolInvoked is published when a call is dispatched.
type ToolInvoked struct {
	CallID    string          `json:"call_id" cbor:"call_id"`
	Name      string          `json:"name" cbor:"name"`
	Target    string          `json:"target" cbor:"target"`
	Arguments json.RawMessage `json:"arguments,omitempty" cbor:"arguments,omitempty"`
	Preview   string          `json:"preview,omitempty" cbor:"preview,omitempty"`
}

// ToolCompleted is published once per call, success or not.
type ToolCompleted struct {
	CallID   string        `json:"call_id" cbor:"call_id"`
	Name     string        `json:"name" cbor:"name"`
	Status   string        `json:"status" cbor:"status"`
	ErrKind  string        `json:"error_kind,omitempty" cbor:"error_kind,omitempty"`
	Output   string        `json:"output" cbor:"output"`
	Duration time.Duration `json:"duration" cbor:"duration"`
}

// TrimmedContext reports turns dropped to fit the budget.
type TrimmedContext struct {
	Dropped    []int64 `json:"dropped" cbor:"dropped"`
	CostBefore int     `json:"cost_before" cbor:"cost_before"`
	CostAfter  int     `json:"cost_after" cbor:"cost_after"`
	Pending    int     `json:"pending" cbor:"pending"`
	Budget     int     `json:"budget" cbor:"budget"`
}

// BudgetExceeded is published when a run stops on a token or round limit.
type BudgetExceeded struct {
	Reason string `json:"reason" cbor:"reason"`
	Budget int    `json:"budget,omitempty" cbor:"budget,omitempty"`
	Needed int    `json:"needed,omitempty" cbor:"needed,omitempty"`
	Rounds int    `json:"rounds,omitempty" cbor:"rounds,omitempty"`
}

// ConversationEnded is the last event of every run.
type ConversationEnded struct {
	State  string `json:"state" cbor:"state"`
	Reason string `json:"reason,omitempty" cbor:"reason,omitempty"`
	Turns  int    `json:"turns" cbor:"turns"`
}

// Cancelled is published when a prompt is cancelled.
type Cancelled struct {
	Phase       string `json:"phase" cbor:"phase"`
	Synthesized int    `json:"synthesized,omitempty" cbor:"synthesized,omitempty"`
}

// Errored is published for fatal errors.
type Errored struct {
	Message string `json:"message" cbor:"message"`
	ErrKind string `json:"kind,omitempty" cbor:"kind,omitempty"`
}

// StateChanged is published on every engine transition.
type StateChanged struct {
	From   string `json:"from" cbor:"from"`
	To     string `json:"to" cbor:"to"`
	Reason string `json:"reason,omitempty" cbor:"reason,omitempty"`
}

// Retrying is published when the provider retries a request.
type Retrying struct {
	Attempt     int     `json:"attempt" cbor:"attempt"`
	MaxAttempts int     `json:"max_attempts" cbor:"max_attempts"`
	WaitSecs    float64 `json:"wait_secs" cbor:"wait_secs"`
}

// Compacted reports a history compaction.
type Compacted struct {
	Before  int    `json:"before" cbor:"before"`
	After   int    `json:"after" cbor:"after"`
	Summary string `json:"summary" cbor:"summary"`
}

// ToolServerStatus mirrors a tool server session state change.
type ToolServerStatus struct {
	Server string `json:"server" cbor:"server"`
	State  string `json:"state" cbor:"state"`
	Tools  int    `json:"tools,omitempty" cbor:"tools,omitempty"`
	Error  string `json:"error,omitempty" cbor:"error,omitempty"`
}

// Usage reports provider token usage for one request and the running total.
type Usage struct {
	InputTokens       int `json:"input_tokens" cbor:"input_tokens"`
	OutputTokens      int `json:"output_tokens" cbor:"output_tokens"`
	TotalInputTokens  int `json:"total_input_tokens" cbor:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens" cbor:"total_output_tokens"`
}

func (TurnStarted) Kind() Kind       { return KindTurnStarted }
func (ModelChunk) Kind() Kind        { return KindModelChunk }
func (ToolInvoked) Kind() Kind       { return KindToolInvoked }
func (ToolCompleted) Kind() Kind     { return KindToolCompleted }
func (TrimmedContext) Kind() Kind    { return KindTrimmedContext }
func (BudgetExceeded) Kind() Kind    { return KindBudgetExceeded }
func (ConversationEnded) Kind() Kind { return KindConversationEnded }
func (Cancelled) Kind() Kind         { return KindCancelled }
func (Errored) Kind() Kind           { return KindErrored }
func (StateChanged) Kind() Kind      { return KindStateChanged }
func (Retrying) Kind() Kind          { return KindRetrying }
func (Compacted) Kind() Kind         { return KindCompacted }
func (ToolServerStatus) Kind() Kind  { return KindToolServerStatus }
func (Usage) Kind() Kind             { return KindUsage }

// newPayload returns a pointer to an empty payload of the given kind.
func newPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindTurnStarted:
		return &TurnStarted{}, nil
	case KindModelChunk:
		return &ModelChunk{}, nil
	case KindToolInvoked:
		return &ToolInvoked{}, nil
	case KindToolCompleted:
		return &ToolCompleted{}, nil
	case KindTrimmedContext:
		return &TrimmedContext{}, nil
	case KindBudgetExceeded:
		return &BudgetExceeded{}, nil
	case KindConversationEnded:
		return &ConversationEnded{}, nil
	case KindCancelled:
		return &Cancelled{}, nil
	case KindErrored:
		return &Errored{}, nil
	case KindStateChanged:
		return &StateChanged{}, nil
	case KindRetrying:
		return &Retrying{}, nil
	case KindCompacted:
		return &Compacted{}, nil
	case KindToolServerStatus:
		return &ToolServerStatus{}, nil
	case KindUsage:
		return &Usage{}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

// deref turns the pointer from newPayload back into a value payload so
// decoded events compare equal to published ones.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TurnStarted:
		return *v
	case *ModelChunk:
		return *v
	case *ToolInvoked:
		return *v
	case *ToolCompleted:
		return *v
	case *TrimmedContext:
		return *v
	case *BudgetExceeded:
		return *v
	case *ConversationEnded:
		return *v
	case *Cancelled:
		return *v
	case *Errored:
		return *v
	case *StateChanged:
		return *v
	case *Retrying:
		return *v
	case *Compacted:
		return *v
	case *ToolServerStatus:
		return *v
	case *Usage:
		return *v
	}
	return p
}

// jsonEvent is the JSON wire form of an Event.
type jsonEvent struct {
	Seq     int64           `json:"seq"`
	Time    time.Time       `json:"time"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEvent{Seq: e.Seq, Time: e.Time, Kind: e.Kind(), Payload: payload})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w jsonEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(w.Payload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}
	*e = Event{Seq: w.Seq, Time: w.Time, Payload: deref(p)}
	return nil
}

// cborEvent is the CBOR wire form of an Event.
type cborEvent struct {
	Seq     int64           `cbor:"seq"`
	Time    time.Time       `cbor:"time"`
	Kind    Kind            `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload"`
}

func (e Event) MarshalCBOR() ([]byte, error) {
	payload, err := encMode.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cborEvent{Seq: e.Seq, Time: e.Time, Kind: e.Kind(), Payload: payload})
}

func (e *Event) UnmarshalCBOR(data []byte) error {
	var w cborEvent
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(w.Payload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}
	*e = Event{Seq: w.Seq, Time: w.Time, Payload: deref(p)}
	return nil
}
