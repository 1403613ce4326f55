package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider streams replies from the Anthropic Messages API.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	credential string
}

// NewAnthropicProvider builds a provider. An empty apiKey falls back to
// ANTHROPIC_API_KEY. The SDK's own retries are disabled; RetryProvider owns
// that policy.
func NewAnthropicProvider(apiKey, baseURL, model string) (*AnthropicProvider, error) {
	credential := "api_key"
	if apiKey == "" {
		apiKey, credential = os.Getenv("ANTHROPIC_API_KEY"), "env"
	}
	if apiKey == "" {
		return nil, &ProviderError{
			Provider: "anthropic",
			Kind:     ErrorAuth,
			Err:      fmt.Errorf("no API key: set api_key in provider config or ANTHROPIC_API_KEY"),
		}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: model, credential: credential}, nil
}

func (p *AnthropicProvider) Name() string               { return fmt.Sprintf("Anthropic (%s)", p.model) }
func (p *AnthropicProvider) Credential() string         { return p.credential }
func (p *AnthropicProvider) Capabilities() Capabilities { return Capabilities{ToolCalls: true} }

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, params := p.params(req)
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if req.Debug {
			debugRequest(os.Stderr, p.Name(), system, len(params.Messages), len(req.Tools))
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		// msg accumulates the whole reply; tool calls are read back from it
		// once their content block closes.
		var msg anthropic.Message
		for stream.Next() {
			chunk := stream.Current()
			if err := msg.Accumulate(chunk); err != nil {
				return classifyError("anthropic", err)
			}
			switch v := chunk.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := v.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					if err := emit(ctx, events, Event{Type: EventTextDelta, Text: d.Text}); err != nil {
						return err
					}
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := anthropicToolCall(msg.Content, v.Index); ok {
					if err := emit(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
						return err
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classifyError("anthropic", err)
		}

		if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
			use := Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
			if err := emit(ctx, events, Event{Type: EventUsage, Use: &use}); err != nil {
				return err
			}
		}
		return emit(ctx, events, Event{Type: EventDone})
	}), nil
}

func (p *AnthropicProvider) params(req Request) (string, anthropic.MessageNewParams) {
	system, messages := buildAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: maxTokens(req.MaxOutputTokens, anthropicDefaultMaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
		params.ToolChoice = buildAnthropicToolChoice(req.ToolChoice)
	}
	return system, params
}

// anthropicToolCall returns the tool_use block at index, if that is what it
// is. A call streamed without input gets an empty object.
func anthropicToolCall(content []anthropic.ContentBlockUnion, index int64) (ToolCall, bool) {
	if index < 0 || int(index) >= len(content) {
		return ToolCall{}, false
	}
	block := content[index]
	if block.Type != "tool_use" {
		return ToolCall{}, false
	}
	args := json.RawMessage(strings.TrimSpace(string(block.Input)))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ToolCall{ID: block.ID, Name: block.Name, Arguments: args}, true
}

// buildAnthropicMessages folds system turns into one system prompt and maps
// tool results onto user messages, which is where the API expects them.
func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, collectTextParts(msg.Parts))
			continue
		}
		blocks := anthropicBlocks(msg)
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func anthropicBlocks(msg Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch {
		case part.Type == PartText && part.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case part.Type == PartToolCall && part.ToolCall != nil && msg.Role == RoleAssistant:
			c := part.ToolCall
			blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, toolArgsToMap(c.Arguments), c.Name))
		case part.Type == PartToolResult && part.ToolResult != nil:
			r := part.ToolResult
			blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Content, r.IsError))
		}
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func buildAnthropicToolChoice(choice ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice.Mode {
	case ToolChoiceNone:
		none := anthropic.NewToolChoiceNoneParam()
		return anthropic.ToolChoiceUnionParam{OfNone: &none}
	case ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
}
