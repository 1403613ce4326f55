package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/llm"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

// Chat describes tools in the system prompt and parses <tool_call> blocks out
// of plain assistant text. It serves backends without native tool calling.
type Chat struct {
	ids idCounter
}

func (c *Chat) Method() config.ToolMethod { return config.ToolMethodChat }

func (c *Chat) ObserveID(id string) { c.ids.observe(id) }

// RenderCatalog produces the system addendum describing every tool and the
// calling convention.
func (c *Chat) RenderCatalog(cat *Catalog) Rendering {
	if cat.Len() == 0 {
		return Rendering{}
	}
	var b strings.Builder
	b.WriteString("# Tools\n\n")
	b.WriteString("You can call tools. To call one, reply with a block of exactly this form:\n\n")
	b.WriteString(openTag + "\n")
	b.WriteString(`{"name": "<tool name>", "arguments": {<arguments as a JSON object>}}` + "\n")
	b.WriteString(closeTag + "\n\n")
	b.WriteString("You may emit several blocks in one reply. Text outside the blocks is shown to the user. ")
	b.WriteString("Tool output comes back in <tool_result> blocks in the next user message. ")
	b.WriteString("Reply without any block when you are done.\n\n")
	b.WriteString("Available tools:\n")
	for _, d := range cat.Descriptors() {
		fmt.Fprintf(&b, "\n## %s\n", d.Name)
		if d.Description != "" {
			b.WriteString(d.Description + "\n")
		}
		if len(d.Schema) > 0 {
			schema, err := json.Marshal(d.Schema)
			if err == nil {
				fmt.Fprintf(&b, "Input schema: %s\n", schema)
			}
		}
	}
	return Rendering{SystemAddendum: b.String()}
}

// Normalize extracts tool_call blocks. Without blocks the whole text is an
// ordinary reply. Every block gets a synthesized ID.
func (c *Chat) Normalize(resp llm.Response, cat *Catalog) Outcome {
	visible, blocks := splitBlocks(resp.Text)
	out := Outcome{Text: visible, Message: llm.AssistantText(resp.Text)}
	for _, blk := range blocks {
		id := c.ids.next()
		out.Issued = append(out.Issued, id)

		name, raw, perr := blk.decode()
		call := Call{ID: id, Name: name}
		if perr != nil {
			if call.Name == "" {
				call.Name = "unknown"
			}
			err := &InvocationError{Tool: call.Name, Reason: "could not parse tool call", Err: perr}
			out.Rejected = append(out.Rejected, Failure(call, kindOf(err), err))
			continue
		}
		accepted, rejected := accept(cat, call, raw)
		if rejected != nil {
			out.Rejected = append(out.Rejected, *rejected)
			continue
		}
		out.Calls = append(out.Calls, accepted)
	}
	return out
}

// ResultMessage wraps each result in a <tool_result> block inside a user
// message.
func (c *Chat) ResultMessage(results []Result) llm.Message {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<tool_result id=%q name=%q status=%q>\n%s\n</tool_result>", r.CallID, r.Name, r.Status, r.Output)
	}
	return llm.UserText(b.String())
}

// VisibleText returns text with tool_call blocks removed.
func VisibleText(text string) string {
	visible, _ := splitBlocks(text)
	return visible
}

type block struct {
	body string
	err  *ParseError
}

// splitBlocks separates visible text from tool_call blocks. An opening tag
// without a closing tag consumes the rest of the text as a malformed block.
func splitBlocks(text string) (string, []block) {
	var visible strings.Builder
	var blocks []block
	rest := text
	for {
		i := strings.Index(rest, openTag)
		if i < 0 {
			visible.WriteString(rest)
			break
		}
		visible.WriteString(rest[:i])
		after := rest[i+len(openTag):]
		j := strings.Index(after, closeTag)
		if j < 0 {
			blocks = append(blocks, block{err: &ParseError{Reason: "missing " + closeTag, Snippet: snippet(after)}})
			break
		}
		blocks = append(blocks, block{body: after[:j]})
		rest = after[j+len(closeTag):]
	}
	return strings.TrimSpace(visible.String()), blocks
}

// decode returns the tool name and raw arguments of a block.
func (b block) decode() (string, json.RawMessage, *ParseError) {
	if b.err != nil {
		return "", nil, b.err
	}
	body := stripFence(strings.TrimSpace(b.body))
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", nil, &ParseError{Reason: "invalid JSON: " + err.Error(), Snippet: snippet(body)}
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return "", nil, &ParseError{Reason: "missing name", Snippet: snippet(body)}
	}
	args := payload.Arguments
	// Some models send the arguments object as a JSON string.
	var encoded string
	if len(args) > 0 && args[0] == '"' && json.Unmarshal(args, &encoded) == nil {
		args = json.RawMessage(encoded)
	}
	return name, args, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return s
}
