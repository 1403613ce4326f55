package toolcall

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/llm"
)

// Rendering is how a catalog is presented to the model: native specs, an
// in-prompt addendum, or both empty when there are no tools.
type Rendering struct {
	Specs          []llm.ToolSpec
	SystemAddendum string
}

// Outcome is a normalized model response.
type Outcome struct {
	// Text is the assistant's visible text.
	Text string
	// Calls are accepted calls ready for dispatch.
	Calls []Call
	// Rejected holds results for calls that failed lookup, parsing or
	// validation. They never reach dispatch.
	Rejected []Result
	// Issued lists every call ID, accepted or rejected, in the order the
	// model produced them.
	Issued []string
	// Message is the assistant message to record in the conversation.
	Message llm.Message
}

// HasCalls reports whether the response asked for any tool.
func (o Outcome) HasCalls() bool {
	return len(o.Issued) > 0
}

// Strategy adapts one tool invocation scheme.
type Strategy interface {
	Method() config.ToolMethod
	RenderCatalog(cat *Catalog) Rendering
	Normalize(resp llm.Response, cat *Catalog) Outcome
	// ResultMessage encodes a round of results for the model.
	ResultMessage(results []Result) llm.Message
	// ObserveID keeps synthesized IDs unique when a conversation is seeded
	// with earlier calls.
	ObserveID(id string)
}

// ForMethod returns a fresh strategy for a tool method. Each conversation
// needs its own instance because call IDs are counted per conversation.
func ForMethod(method config.ToolMethod) (Strategy, error) {
	switch method {
	case config.ToolMethodFunctionCall:
		return &FunctionCall{}, nil
	case config.ToolMethodChat:
		return &Chat{}, nil
	}
	return nil, &config.ConfigError{Field: "tool_method", Err: fmt.Errorf("unsupported tool method %q", method)}
}

// idCounter synthesizes call_<n> identifiers.
type idCounter struct {
	n int
}

func (c *idCounter) next() string {
	c.n++
	return "call_" + strconv.Itoa(c.n)
}

func (c *idCounter) observe(id string) {
	rest, ok := strings.CutPrefix(id, "call_")
	if !ok {
		return
	}
	if n, err := strconv.Atoi(rest); err == nil && n > c.n {
		c.n = n
	}
}

// accept looks a call up and validates it. It returns the routed call or a
// rejection result.
func accept(cat *Catalog, call Call, raw []byte) (Call, *Result) {
	desc, ok := cat.Lookup(call.Name)
	if !ok {
		r := Failure(call, KindInvocation, &InvocationError{Tool: call.Name, Reason: "unknown tool"})
		return call, &r
	}
	args, err := DecodeArgs(raw)
	if err != nil {
		r := Failure(call, KindInvocation, &InvocationError{Tool: call.Name, Reason: "bad arguments", Err: err})
		return call, &r
	}
	m, err := args.Map()
	if err == nil {
		err = cat.Validate(desc, m)
	}
	if err != nil {
		r := Failure(call, KindInvocation, &InvocationError{Tool: call.Name, Reason: "arguments do not match schema", Err: err})
		return call, &r
	}
	call.Args = args
	call.Target = desc.Target
	return call, nil
}
