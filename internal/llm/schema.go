package llm

import "encoding/json"

// schemaRequired reads the "required" list of a JSON schema, which may have
// been decoded as []any.
func schemaRequired(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// toolArgsToMap decodes raw arguments for SDKs that want a structured value.
// Undecodable arguments become an empty object.
func toolArgsToMap(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}
