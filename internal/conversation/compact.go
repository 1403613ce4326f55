package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samsaffron/term-agent/internal/event"
	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/transcript"
)

const (
	// keepRecent is how many non-system turns survive compaction verbatim.
	keepRecent = 6
	// minCompactTurns is the number of non-system turns a conversation must
	// exceed before compaction does anything.
	minCompactTurns = 2

	summaryPrefix       = "Previous conversation summary: "
	summaryUnavailable  = "[Previous conversation history compressed - AI summary unavailable]"
	summaryTemperature  = 0.1
	summaryOriginalNote = "[No user message found]"
)

const summaryPrompt = `Compress this conversation by eliminating ONLY redundant information while preserving every unique piece of data needed to continue the work.

## ORIGINAL OBJECTIVE
Reproduce the original user request VERBATIM. Do not summarize or modify it.

## CONVERSATION FACTS
List every unique fact once, even if it seems minor.

### Technical Stack & Architecture
Every technology, library, framework, pattern or architectural decision mentioned, with versions when given.

### Files & Code
For each file mentioned:
- ` + "`filepath`" + `: what it does | changes made | current state | remaining work

Include code snippets that carry decisions, patterns or solutions.

### User Requests & Instructions
Chronologically, one per line, quoting the user exactly:
1. "exact request" -> Status: completed/in-progress/pending -> deliverable or progress

### Technical Decisions & Solutions
- Decision: context -> implementation -> outcome

### Configuration & Environment
Setup, environment variables, dependencies and flags, each once.

### Current State & Progress
- Last user message (exact quote)
- What was being done and the exact stopping point

### Outstanding Work
Next immediate action, then remaining tasks in order.

### Important Constraints & Notes
User preferences, requirements, known bugs and gotchas.

Be dense but complete. Use exact quotes for user requests. The most recent context matters most.`

// Compact replaces older history with a model-written summary. It keeps the
// system and pinned context turns and the last few turns. When every
// unpinned turn would be kept anyway it does nothing and publishes nothing.
func (e *Engine) Compact(ctx context.Context) error {
	done, err := e.acquire()
	if err != nil {
		return err
	}
	defer done()
	return e.compact(ctx)
}

func (e *Engine) compact(ctx context.Context) error {
	e.mu.Lock()
	turns := transcript.Clone(e.turns)
	e.mu.Unlock()

	var pinned, body []transcript.Turn
	for _, t := range turns {
		switch {
		case t.Pin == transcript.PinSummary:
			// Earlier summaries are replaced.
		case t.Role == transcript.RoleSystem || t.Pinned():
			pinned = append(pinned, t)
		default:
			body = append(body, t)
		}
	}
	if len(body) <= minCompactTurns {
		return nil
	}

	// Never split a call from its results: start the recent window at a
	// turn that is not a tool result.
	cut := max(len(body)-keepRecent, 0)
	for cut > 0 && body[cut].Role == transcript.RoleToolResult {
		cut--
	}
	middle, recent := body[:cut], body[cut:]
	if len(middle) == 0 {
		return nil
	}

	summary, err := e.summarize(ctx, turns)
	if err != nil {
		slog.Warn("compaction summary failed, using placeholder", "error", err)
		summary = ""
	}
	text := summaryUnavailable
	if summary != "" {
		text = summaryPrefix + summary
	}
	msg := llm.SystemText(text)

	e.mu.Lock()
	next := make([]transcript.Turn, 0, len(pinned)+len(recent)+1)
	next = append(next, pinned...)
	next = append(next, transcript.Turn{
		Seq:     e.seq.Next(),
		Role:    transcript.RoleSystem,
		Message: msg,
		Cost:    e.estimator.Cost(msg),
		Pin:     transcript.PinSummary,
		Name:    "summary",
	})
	// Retained turns are renumbered after the summary so Seq keeps
	// increasing along the transcript.
	for _, t := range recent {
		t.Seq = e.seq.Next()
		next = append(next, t)
	}
	before := len(e.turns)
	e.turns = next
	e.sinceCompact = 0
	e.mu.Unlock()

	e.bus.Publish(event.Compacted{Before: before, After: len(next), Summary: summary})
	return nil
}

// summarize asks the provider for a summary of the whole transcript.
func (e *Engine) summarize(ctx context.Context, turns []transcript.Turn) (string, error) {
	original := summaryOriginalNote
	for _, t := range turns {
		if t.Role == transcript.RoleUser {
			original = t.Text()
			break
		}
	}

	var b strings.Builder
	for _, t := range turns {
		if t.Pin == transcript.PinSummary {
			fmt.Fprintf(&b, "Earlier summary: %s\n", t.Text())
			continue
		}
		switch t.Role {
		case transcript.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n", t.Text())
		case transcript.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", t.Text())
		case transcript.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", t.Text())
			for _, call := range t.Message.ToolCalls() {
				fmt.Fprintf(&b, "Assistant called %s %s\n", call.Name, call.Arguments)
			}
		case transcript.RoleToolResult:
			for _, r := range t.Message.ToolResults() {
				fmt.Fprintf(&b, "Tool %s: %s\n", r.Name, r.Content)
			}
			if text := t.Text(); text != "" {
				fmt.Fprintf(&b, "Tool: %s\n", text)
			}
		}
	}

	req := llm.Request{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			llm.SystemText(summaryPrompt),
			llm.UserText(fmt.Sprintf("Original user request: %q\n\nFull conversation:\n%s", original, b.String())),
		},
		Temperature: summaryTemperature,
	}
	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	resp, err := llm.Drain(ctx, stream, nil, nil)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return "", fmt.Errorf("empty summary from %s", e.provider.Name())
	}
	return summary, nil
}

// Clear starts the conversation over, keeping only the system prompt and
// pinned project context.
func (e *Engine) Clear() error {
	done, err := e.acquire()
	if err != nil {
		return err
	}
	defer done()

	e.mu.Lock()
	kept := e.turns[:0:0]
	for _, t := range e.turns {
		if t.Role == transcript.RoleSystem && t.Pin != transcript.PinSummary || t.Pin == transcript.PinProjectContext {
			kept = append(kept, t)
		}
	}
	e.turns = kept
	e.sinceCompact = 0
	e.signatures = nil
	e.mu.Unlock()
	return nil
}
