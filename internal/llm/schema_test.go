package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSchemaRequired(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]any
		want   []string
	}{
		{"missing", map[string]any{}, nil},
		{"strings", map[string]any{"required": []string{"a"}}, []string{"a"}},
		{"decoded", map[string]any{"required": []any{"path", 3, "mode"}}, []string{"path", "mode"}},
		{"wrong type", map[string]any{"required": "path"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, schemaRequired(tt.schema)); diff != "" {
				t.Errorf("schemaRequired (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToolArgsToMap(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]any
	}{
		{"", map[string]any{}},
		{`{"n":1,"s":"x"}`, map[string]any{"n": 1.0, "s": "x"}},
		{`not json`, map[string]any{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, toolArgsToMap(json.RawMessage(tt.raw))); diff != "" {
			t.Errorf("toolArgsToMap(%q) (-want +got):\n%s", tt.raw, diff)
		}
	}
}
