// Package toolcall normalizes the two tool invocation schemes (native function
// calling and in-text chat blocks) into one call/result representation.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// TargetKind says where a tool runs.
type TargetKind string

const (
	TargetBuiltIn    TargetKind = "builtin"
	TargetToolServer TargetKind = "tool_server"
)

// Target routes a call to a built-in tool or a tool server session.
type Target struct {
	Kind    TargetKind `json:"kind"`
	Session string     `json:"session,omitempty"`
}

// BuiltIn is the target of local tools.
var BuiltIn = Target{Kind: TargetBuiltIn}

// ToolServer returns the target for a tool server session.
func ToolServer(session string) Target {
	return Target{Kind: TargetToolServer, Session: session}
}

func (t Target) String() string {
	if t.Kind == TargetToolServer {
		return "mcp:" + t.Session
	}
	return string(t.Kind)
}

// Descriptor is one catalog entry.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Target      Target         `json:"target"`
	// Remote is the tool's name on its server when Name was prefixed to
	// avoid a collision.
	Remote string `json:"remote,omitempty"`
}

// RemoteName returns the name to send to the tool server.
func (d Descriptor) RemoteName() string {
	if d.Remote != "" {
		return d.Remote
	}
	return d.Name
}

// Arg is one argument in the order the model wrote it.
type Arg struct {
	Key   string
	Value json.RawMessage
}

// Args is an ordered argument list.
type Args []Arg

// DecodeArgs parses a JSON object keeping key order. Empty input and null
// decode to no arguments.
func DecodeArgs(raw []byte) (Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Args{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("arguments are not valid JSON")
	}
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", obj.Type)
	}
	args := Args{}
	obj.ForEach(func(key, value gjson.Result) bool {
		args = append(args, Arg{Key: key.String(), Value: json.RawMessage(value.Raw)})
		return true
	})
	return args, nil
}

// Get returns the raw value for key.
func (a Args) Get(key string) (json.RawMessage, bool) {
	for _, arg := range a {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return nil, false
}

// JSON re-encodes the arguments as an object in their original order.
func (a Args) JSON() json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(arg.Key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(arg.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Map decodes the arguments into a generic map for schema validation and
// tool servers.
func (a Args) Map() (map[string]any, error) {
	out := make(map[string]any, len(a))
	for _, arg := range a {
		var v any
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Key, err)
		}
		out[arg.Key] = v
	}
	return out, nil
}

// Call is a normalized tool invocation.
type Call struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Args       Args   `json:"-"`
	Target     Target `json:"target"`
	ThoughtSig []byte `json:"thought_sig,omitempty"`
}

// Arguments returns the call's arguments as a JSON object.
func (c Call) Arguments() json.RawMessage {
	return c.Args.JSON()
}

// Signature identifies a call by name and canonical arguments, so repeated
// identical calls can be detected regardless of key order or ID.
func (c Call) Signature() string {
	m, err := c.Args.Map()
	if err != nil {
		return c.Name + ":" + string(c.Args.JSON())
	}
	data, _ := json.Marshal(m)
	return c.Name + ":" + string(data)
}

// Status is the outcome of a call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Kind classifies error results.
type Kind string

const (
	KindNone        Kind = ""
	KindInvocation  Kind = "invocation"
	KindUnavailable Kind = "unavailable"
	KindParse       Kind = "parse"
	KindCancelled   Kind = "cancelled"
	KindExecution   Kind = "execution"
)

// Result is the answer to exactly one Call.
type Result struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Output     string `json:"output"`
	Kind       Kind   `json:"kind,omitempty"`
	ThoughtSig []byte `json:"thought_sig,omitempty"`
}

// IsError reports whether the result carries an error.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// Success builds a successful result for call.
func Success(call Call, output string) Result {
	return Result{CallID: call.ID, Name: call.Name, Status: StatusSuccess, Output: output, ThoughtSig: call.ThoughtSig}
}

// Failure builds an error result for call.
func Failure(call Call, kind Kind, err error) Result {
	return Result{
		CallID:     call.ID,
		Name:       call.Name,
		Status:     StatusError,
		Output:     "Error: " + err.Error(),
		Kind:       kind,
		ThoughtSig: call.ThoughtSig,
	}
}

// InvocationError reports a call that could not be dispatched: unknown tool,
// bad arguments or a rejected command. It is returned to the model as an
// error result.
type InvocationError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("invalid call to %s: %s", e.Tool, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ParseError reports a malformed in-text tool call block.
type ParseError struct {
	Snippet string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return "malformed tool call: " + e.Reason
	}
	return fmt.Sprintf("malformed tool call: %s (near %q)", e.Reason, e.Snippet)
}

// kindOf maps an invocation error to its result kind.
func kindOf(err error) Kind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return KindParse
	}
	return KindInvocation
}
