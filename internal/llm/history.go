package llm

import (
	"fmt"
	"strings"
)

// partPos addresses one part of one message in a history.
type partPos struct{ msg, part int }

// SanitizeToolHistory returns a copy of messages in which every tool call is
// answered by a later tool result and every tool result answers an earlier
// call. Orphan results are dropped; unanswered calls are kept as text so the
// model can see what it attempted. Other content is copied unchanged.
func SanitizeToolHistory(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	paired := pairToolParts(messages)

	out := make([]Message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role != RoleAssistant && msg.Role != RoleTool {
			out = append(out, CloneMessage(msg))
			continue
		}
		var parts []Part
		for j, p := range msg.Parts {
			p, ok := p.clone()
			if !ok {
				continue
			}
			switch {
			case msg.Role == RoleAssistant && p.Type == PartToolCall:
				if strings.TrimSpace(p.ToolCall.ID) == "" {
					continue
				}
				if !paired[partPos{i, j}] {
					p = interruptedCall(p.ToolCall)
				}
			case msg.Role == RoleTool && p.Type == PartToolResult:
				if !paired[partPos{i, j}] {
					continue
				}
			}
			parts = append(parts, p)
		}
		if len(parts) > 0 {
			out = append(out, Message{Role: msg.Role, Parts: parts})
		}
	}
	return out
}

// pairToolParts matches tool results to calls by id, first come first
// served, and returns the positions of both halves of every pair.
func pairToolParts(messages []Message) map[partPos]bool {
	open := make(map[string][]partPos)
	paired := make(map[partPos]bool)
	for i, msg := range messages {
		for j, p := range msg.Parts {
			switch {
			case msg.Role == RoleAssistant && p.Type == PartToolCall && p.ToolCall != nil:
				if id := strings.TrimSpace(p.ToolCall.ID); id != "" {
					open[id] = append(open[id], partPos{i, j})
				}
			case msg.Role == RoleTool && p.Type == PartToolResult && p.ToolResult != nil:
				id := strings.TrimSpace(p.ToolResult.ID)
				queue := open[id]
				if id == "" || len(queue) == 0 {
					continue
				}
				paired[queue[0]] = true
				paired[partPos{i, j}] = true
				open[id] = queue[1:]
			}
		}
	}
	return paired
}

func interruptedCall(c *ToolCall) Part {
	return Part{
		Type: PartText,
		Text: fmt.Sprintf("[tool call interrupted: id:%s name:%s args:%s]", c.ID, c.Name, c.Arguments),
	}
}

// CloneMessage returns a deep copy of m. Tool parts without a payload are
// dropped.
func CloneMessage(m Message) Message {
	parts := make([]Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if c, ok := p.clone(); ok {
			parts = append(parts, c)
		}
	}
	return Message{Role: m.Role, Parts: parts}
}

func (p Part) clone() (Part, bool) {
	switch p.Type {
	case PartToolCall:
		if p.ToolCall == nil {
			return Part{}, false
		}
		c := *p.ToolCall
		c.Arguments = cloneBytes(c.Arguments)
		c.ThoughtSig = cloneBytes(c.ThoughtSig)
		p.ToolCall = &c
	case PartToolResult:
		if p.ToolResult == nil {
			return Part{}, false
		}
		r := *p.ToolResult
		r.ThoughtSig = cloneBytes(r.ThoughtSig)
		p.ToolResult = &r
	}
	return p, true
}

func cloneBytes[T ~[]byte](b T) T {
	if len(b) == 0 {
		return b
	}
	return append(T(nil), b...)
}
