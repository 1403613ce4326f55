package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn is one scripted provider response.
type MockTurn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	Delay     time.Duration // wait before the first event
	Error     error         // returned instead of a response
}

// MockProvider replays scripted turns in order. It records every request so
// tests can assert on what the engine sent. With echo enabled, an exhausted
// script answers by repeating the last user message.
type MockProvider struct {
	name string
	caps Capabilities
	echo bool

	mu        sync.Mutex
	turns     []MockTurn
	turnIndex int
	Requests  []Request
}

// NewMockProvider creates an empty scripted provider.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, caps: Capabilities{ToolCalls: true}}
}

// WithCapabilities overrides the reported capabilities.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

// WithEcho makes the provider answer with the last user message once the
// script runs out.
func (p *MockProvider) WithEcho() *MockProvider {
	p.echo = true
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Credential() string { return "mock" }

func (p *MockProvider) Capabilities() Capabilities { return p.caps }

// AddTurn appends a scripted turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse scripts a plain text reply.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text})
}

// AddToolCall scripts a reply consisting of a single tool call. args is
// marshalled to JSON; a json.RawMessage or string is used as-is.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: mockArgs(args)}}})
}

// AddError scripts a failed request.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Error: err})
}

// CurrentTurn returns the index of the next scripted turn.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnIndex
}

// Reset rewinds the script and clears recorded requests.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turnIndex = 0
	p.Requests = nil
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	var turn MockTurn
	switch {
	case p.turnIndex < len(p.turns):
		turn = p.turns[p.turnIndex]
		p.turnIndex++
	case p.echo:
		turn = MockTurn{Text: lastUserText(req.Messages)}
	default:
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %s: no more scripted turns (used %d)", p.name, len(p.turns))
	}
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			if err := sleepCtx(ctx, turn.Delay); err != nil {
				return err
			}
		}
		if turn.Error != nil {
			return turn.Error
		}

		send := func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, chunk := range chunkText(turn.Text, 16) {
			if err := send(Event{Type: EventTextDelta, Text: chunk}); err != nil {
				return err
			}
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			if err := send(Event{Type: EventToolCall, Tool: &call}); err != nil {
				return err
			}
		}
		usage := turn.Usage
		if usage == (Usage{}) {
			usage = Usage{InputTokens: len(req.Messages) * 10, OutputTokens: len(turn.Text)/4 + 1}
		}
		if err := send(Event{Type: EventUsage, Use: &usage}); err != nil {
			return err
		}
		return send(Event{Type: EventDone})
	}), nil
}

func mockArgs(args any) json.RawMessage {
	switch v := args.(type) {
	case nil:
		return json.RawMessage("{}")
	case json.RawMessage:
		return v
	case string:
		return json.RawMessage(v)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
