package toolcall

import (
	"strings"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/llm"
)

// FunctionCall uses the provider's native tool schema and structured calls.
type FunctionCall struct {
	ids idCounter
}

func (f *FunctionCall) Method() config.ToolMethod { return config.ToolMethodFunctionCall }

func (f *FunctionCall) ObserveID(id string) { f.ids.observe(id) }

// RenderCatalog sends the catalog as native tool specs.
func (f *FunctionCall) RenderCatalog(cat *Catalog) Rendering {
	if cat.Len() == 0 {
		return Rendering{}
	}
	return Rendering{Specs: cat.Specs()}
}

// Normalize validates each structured call. Calls missing an ID get a
// synthesized one; a repeated ID is dropped.
func (f *FunctionCall) Normalize(resp llm.Response, cat *Catalog) Outcome {
	out := Outcome{Text: resp.Text}
	seen := make(map[string]bool, len(resp.ToolCalls))
	var recorded []llm.ToolCall
	for _, tc := range resp.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = f.ids.next()
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		tc.ID = id
		if len(tc.Arguments) == 0 {
			tc.Arguments = []byte("{}")
		}
		recorded = append(recorded, tc)
		out.Issued = append(out.Issued, id)

		call, rejected := accept(cat, Call{ID: id, Name: tc.Name, ThoughtSig: tc.ThoughtSig}, tc.Arguments)
		if rejected != nil {
			out.Rejected = append(out.Rejected, *rejected)
			continue
		}
		out.Calls = append(out.Calls, call)
	}
	if len(recorded) == 0 {
		out.Message = llm.AssistantText(resp.Text)
	} else {
		out.Message = llm.AssistantWithCalls(resp.Text, recorded)
	}
	return out
}

// ResultMessage returns one tool-role message carrying every result.
func (f *FunctionCall) ResultMessage(results []Result) llm.Message {
	msg := llm.Message{Role: llm.RoleTool}
	for _, r := range results {
		msg.Parts = append(msg.Parts, llm.Part{
			Type: llm.PartToolResult,
			ToolResult: &llm.ToolResult{
				ID:         r.CallID,
				Name:       r.Name,
				Content:    r.Output,
				IsError:    r.IsError(),
				ThoughtSig: r.ThoughtSig,
			},
		})
	}
	return msg
}
