package llm

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/go-cmp/cmp"
)

// accumulate replays raw stream events through anthropic.Message.
func accumulate(t *testing.T, raw ...string) anthropic.Message {
	t.Helper()
	var msg anthropic.Message
	for _, r := range raw {
		var ev anthropic.MessageStreamEventUnion
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			t.Fatalf("unmarshal %s: %v", r, err)
		}
		if err := msg.Accumulate(ev); err != nil {
			t.Fatalf("accumulate %s: %v", r, err)
		}
	}
	return msg
}

const anthropicStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`

func TestAnthropicToolCall(t *testing.T) {
	msg := accumulate(t,
		anthropicStart,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Reading."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"go.mod\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_2","name":"list_files","input":{}}}`,
		`{"type":"content_block_stop","index":2}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":30}}`,
	)

	if _, ok := anthropicToolCall(msg.Content, 0); ok {
		t.Error("text block reported as a tool call")
	}
	if _, ok := anthropicToolCall(msg.Content, 7); ok {
		t.Error("out of range index reported as a tool call")
	}

	call, ok := anthropicToolCall(msg.Content, 1)
	if !ok {
		t.Fatal("tool_use block not found")
	}
	var args map[string]string
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("arguments %s: %v", call.Arguments, err)
	}
	if call.ID != "toolu_1" || call.Name != "read_file" || args["path"] != "go.mod" {
		t.Errorf("call = %+v args=%v", call, args)
	}

	empty, ok := anthropicToolCall(msg.Content, 2)
	if !ok || string(empty.Arguments) != "{}" {
		t.Errorf("call without input = %+v, want {} arguments", empty)
	}

	if msg.Usage.InputTokens != 12 || msg.Usage.OutputTokens != 30 {
		t.Errorf("usage = %+v", msg.Usage)
	}
}

func TestBuildAnthropicMessages(t *testing.T) {
	system, msgs := buildAnthropicMessages([]Message{
		SystemText("be brief"),
		SystemText("project: demo"),
		UserText("list files"),
		AssistantWithCalls("", []ToolCall{{ID: "toolu_1", Name: "list_files", Arguments: json.RawMessage(`{"path":"."}`)}}),
		ToolResultMessage("toolu_1", "list_files", "a.go\nb.go", false, nil),
		{Role: RoleUser, Parts: []Part{{Type: PartText}}},
	})

	if system != "be brief\n\nproject: demo" {
		t.Fatalf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (empty message dropped)", len(msgs))
	}
	var roles []string
	for _, m := range msgs {
		roles = append(roles, string(m.Role))
	}
	if diff := cmp.Diff([]string{"user", "assistant", "user"}, roles); diff != "" {
		t.Errorf("roles (-want +got):\n%s", diff)
	}
	use := msgs[1].Content[0].OfToolUse
	if use == nil || use.ID != "toolu_1" || use.Name != "list_files" {
		t.Fatalf("expected tool_use block, got %#v", msgs[1].Content[0])
	}
	if msgs[2].Content[0].OfToolResult == nil {
		t.Fatalf("expected tool_result in user message, got %#v", msgs[2])
	}
}

func TestBuildAnthropicTools(t *testing.T) {
	tools := buildAnthropicTools([]ToolSpec{{
		Name:        "grep",
		Description: "Search files",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
			"required":   []any{"pattern"},
		},
	}})
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %#v", tools)
	}
	tool := tools[0].OfTool
	if tool.Name != "grep" || tool.Description.Value != "Search files" {
		t.Errorf("tool = %+v", tool)
	}
	if diff := cmp.Diff([]string{"pattern"}, tool.InputSchema.Required); diff != "" {
		t.Errorf("required (-want +got):\n%s", diff)
	}
}

func TestBuildAnthropicToolChoice(t *testing.T) {
	if buildAnthropicToolChoice(ToolChoice{Mode: ToolChoiceNone}).OfNone == nil {
		t.Error("none")
	}
	if buildAnthropicToolChoice(ToolChoice{Mode: ToolChoiceRequired}).OfAny == nil {
		t.Error("required")
	}
	if buildAnthropicToolChoice(ToolChoice{}).OfAuto == nil {
		t.Error("auto")
	}
}
