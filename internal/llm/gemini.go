package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google GenAI SDK.
type GeminiProvider struct {
	apiKey     string
	model      string
	credential string
}

// NewGeminiProvider creates a Gemini provider. The key comes from config
// first, then GEMINI_API_KEY.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	credential := "api_key"
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		credential = "env"
	}
	if apiKey == "" {
		return nil, &ProviderError{
			Provider: "gemini",
			Kind:     ErrorAuth,
			Err:      fmt.Errorf("no API key: set api_key in provider config or GEMINI_API_KEY"),
		}
	}
	return &GeminiProvider{apiKey: apiKey, model: model, credential: credential}, nil
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Credential() string {
	return p.credential
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return classifyError("gemini", fmt.Errorf("create client: %w", err))
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return &ProviderError{Provider: "gemini", Kind: ErrorFatal, Err: fmt.Errorf("no user content provided")}
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
			config.ToolConfig = buildGeminiToolConfig(req.ToolChoice)
		}

		if req.Debug {
			debugRequest(os.Stderr, p.Name(), system, len(contents), len(req.Tools))
		}

		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return classifyError("gemini", err)
			}
			lastResp = resp
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					select {
					case events <- Event{Type: EventTextDelta, Text: part.Text}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					events <- Event{Type: EventToolCall, Tool: &ToolCall{
						ID:         part.FunctionCall.ID,
						Name:       part.FunctionCall.Name,
						Arguments:  args,
						ThoughtSig: part.ThoughtSignature,
					}}
				}
			}
		}

		if lastResp != nil && lastResp.UsageMetadata != nil && lastResp.UsageMetadata.TotalTokenCount > 0 {
			events <- Event{Type: EventUsage, Use: &Usage{
				InputTokens:  int(lastResp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(lastResp.UsageMetadata.CandidatesTokenCount),
			}}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: normalizeObjectSchema(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiToolConfig(choice ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	switch choice.Mode {
	case ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case ToolChoiceRequired:
		mode = genai.FunctionCallingConfigModeAny
	}
	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
	}
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text()
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Text(), genai.RoleUser))
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			for _, part := range msg.Parts {
				switch {
				case part.Type == PartText && part.Text != "":
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				case part.Type == PartToolCall && part.ToolCall != nil:
					content.Parts = append(content.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							ID:   part.ToolCall.ID,
							Name: part.ToolCall.Name,
							Args: toolArgsToMap(part.ToolCall.Arguments),
						},
						ThoughtSignature: part.ToolCall.ThoughtSig,
					})
				}
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleTool:
			content := &genai.Content{Role: genai.RoleUser}
			for _, result := range msg.ToolResults() {
				key := "output"
				if result.IsError {
					key = "error"
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       result.ID,
						Name:     result.Name,
						Response: map[string]any{key: result.Content},
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		}
	}
	return system, contents
}
