package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func drainMock(t *testing.T, p *MockProvider, req Request) (Response, error) {
	t.Helper()
	stream, err := p.Stream(context.Background(), req)
	if err != nil {
		return Response{}, err
	}
	return Drain(context.Background(), stream, nil, nil)
}

func TestMockProvider_Script(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name      string
		script    func(p *MockProvider)
		wantText  string
		wantCalls []ToolCall
		wantErr   error
	}{
		{
			name:     "text",
			script:   func(p *MockProvider) { p.AddTextResponse("a reply longer than one sixteen-rune chunk") },
			wantText: "a reply longer than one sixteen-rune chunk",
		},
		{
			name:      "tool call from map",
			script:    func(p *MockProvider) { p.AddToolCall("c1", "read_file", map[string]any{"path": "go.mod"}) },
			wantCalls: []ToolCall{{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"go.mod"}`)}},
		},
		{
			name:      "tool call from raw string",
			script:    func(p *MockProvider) { p.AddToolCall("c2", "glob", `{"pattern":"*.go"}`) },
			wantCalls: []ToolCall{{ID: "c2", Name: "glob", Arguments: json.RawMessage(`{"pattern":"*.go"}`)}},
		},
		{
			name:      "nil args",
			script:    func(p *MockProvider) { p.AddToolCall("c3", "list_files", nil) },
			wantCalls: []ToolCall{{ID: "c3", Name: "list_files", Arguments: json.RawMessage(`{}`)}},
		},
		{
			name:    "error",
			script:  func(p *MockProvider) { p.AddError(errBoom) },
			wantErr: errBoom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMockProvider("mock")
			tt.script(p)
			resp, err := drainMock(t, p, Request{Messages: []Message{UserText("hi")}})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if resp.Text != tt.wantText {
				t.Errorf("text = %q, want %q", resp.Text, tt.wantText)
			}
			if diff := cmp.Diff(tt.wantCalls, resp.ToolCalls); diff != "" {
				t.Errorf("tool calls (-want +got):\n%s", diff)
			}
			if resp.Usage == nil || resp.Usage.InputTokens != 10 {
				t.Errorf("usage = %+v, want synthesized input tokens", resp.Usage)
			}
		})
	}
}

func TestMockProvider_ScriptedUsageWins(t *testing.T) {
	p := NewMockProvider("mock").AddTurn(MockTurn{Text: "ok", Usage: Usage{InputTokens: 7, OutputTokens: 3}})
	resp, err := drainMock(t, p, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if *resp.Usage != (Usage{InputTokens: 7, OutputTokens: 3}) {
		t.Errorf("usage = %+v", *resp.Usage)
	}
}

func TestMockProvider_ExhaustedAndEcho(t *testing.T) {
	p := NewMockProvider("strict").AddTextResponse("one")
	if _, err := drainMock(t, p, Request{}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("exhausted script should fail")
	}

	echo := NewMockProvider("echo").WithEcho()
	resp, err := drainMock(t, echo, Request{Messages: []Message{
		UserText("first"),
		AssistantText("ignored"),
		UserText("say this back"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "say this back" {
		t.Errorf("echo = %q", resp.Text)
	}
}

func TestMockProvider_RecordsRequestsAndResets(t *testing.T) {
	p := NewMockProvider("mock").AddTextResponse("a").AddTextResponse("b")
	for _, prompt := range []string{"first", "second"} {
		if _, err := drainMock(t, p, Request{Messages: []Message{UserText(prompt)}}); err != nil {
			t.Fatal(err)
		}
	}
	if p.CurrentTurn() != 2 || len(p.Requests) != 2 {
		t.Fatalf("turn=%d requests=%d", p.CurrentTurn(), len(p.Requests))
	}
	if got := p.Requests[1].Messages[0].Text(); got != "second" {
		t.Errorf("second request = %q", got)
	}

	p.Reset()
	resp, err := drainMock(t, p, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "a" || len(p.Requests) != 1 {
		t.Errorf("after reset: text=%q requests=%d", resp.Text, len(p.Requests))
	}
}

func TestMockProvider_DelayHonoursCancel(t *testing.T) {
	p := NewMockProvider("slow").AddTurn(MockTurn{Text: "late", Delay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Stream(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	_, err = stream.Recv()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Recv err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancel did not interrupt the delay")
	}
	stream.Close()
}

func TestMockProvider_Capabilities(t *testing.T) {
	p := NewMockProvider("mock")
	if p.Name() != "mock" || p.Credential() != "mock" || !p.Capabilities().ToolCalls {
		t.Fatalf("defaults: name=%q cred=%q caps=%+v", p.Name(), p.Credential(), p.Capabilities())
	}
	if p.WithCapabilities(Capabilities{}).Capabilities().ToolCalls {
		t.Error("WithCapabilities did not apply")
	}
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		text string
		size int
		want []string
	}{
		{"", 4, nil},
		{"abc", 4, []string{"abc"}},
		{"abcdefgh", 4, []string{"abcd", "efgh"}},
		{"héllo wörld", 5, []string{"héllo", " wörl", "d"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, chunkText(tt.text, tt.size)); diff != "" {
			t.Errorf("chunkText(%q, %d) (-want +got):\n%s", tt.text, tt.size, diff)
		}
	}
}
