package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider over the chat-completions API. It serves
// both api.openai.com and any OpenAI-compatible server (Ollama, vLLM, LM
// Studio, hosted gateways) selected by base URL.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	name       string
	credential string
}

// NewOpenAIProvider creates a chat-completions provider. An empty baseURL
// targets the official API. The SDK's own retries are disabled; RetryProvider
// owns retry policy.
func NewOpenAIProvider(name, baseURL, apiKey, model string) *OpenAIProvider {
	credential := "api_key"
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		credential = "env"
	}
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		// Local servers usually ignore the key but the SDK requires one.
		opts = append(opts, option.WithAPIKey("unused"))
		credential = "none"
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"))
	}
	if name == "" {
		name = "OpenAI"
	}
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		name:       name,
		credential: credential,
	}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAIProvider) Credential() string {
	return p.credential
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(chooseModel(req.Model, p.model)),
			Messages: buildOpenAIMessages(req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(float64(req.Temperature))
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
			params.ToolChoice = buildOpenAIToolChoice(req.ToolChoice)
		}

		if req.Debug {
			debugRequest(os.Stderr, p.Name(), "", len(params.Messages), len(req.Tools))
		}

		state := newOpenAIToolState()
		var usage *Usage

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				state.add(choice.Delta.ToolCalls)
			}
		}
		if err := stream.Err(); err != nil {
			return classifyError(p.name, err)
		}

		for _, call := range state.calls() {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if usage != nil {
			events <- Event{Type: EventUsage, Use: usage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := msg.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, call := range calls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			for _, result := range msg.ToolResults() {
				out = append(out, openai.ToolMessage(result.Content, result.ID))
			}
		}
	}
	return out
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: shared.FunctionParameters(normalizeObjectSchema(spec.Schema)),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func buildOpenAIToolChoice(choice ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice.Mode {
	case ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}

// normalizeObjectSchema guarantees an object schema with a properties map,
// which OpenAI-compatible servers reject when absent.
func normalizeObjectSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// openAIToolState accumulates streamed tool-call fragments by index.
type openAIToolState struct {
	byIndex map[int64]*openAIPendingCall
}

type openAIPendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newOpenAIToolState() *openAIToolState {
	return &openAIToolState{byIndex: make(map[int64]*openAIPendingCall)}
}

func (s *openAIToolState) add(deltas []openai.ChatCompletionChunkChoiceDeltaToolCall) {
	for _, d := range deltas {
		pending := s.byIndex[d.Index]
		if pending == nil {
			pending = &openAIPendingCall{}
			s.byIndex[d.Index] = pending
		}
		if d.ID != "" {
			pending.id = d.ID
		}
		if d.Function.Name != "" {
			pending.name = d.Function.Name
		}
		pending.args.WriteString(d.Function.Arguments)
	}
}

func (s *openAIToolState) calls() []ToolCall {
	indexes := make([]int64, 0, len(s.byIndex))
	for idx := range s.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pending := s.byIndex[idx]
		if pending.name == "" {
			continue
		}
		args := json.RawMessage(pending.args.String())
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{ID: pending.id, Name: pending.name, Arguments: args})
	}
	return calls
}
