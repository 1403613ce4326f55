package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// decodeArgs unmarshals args into v. Keys not in known are ignored but
// reported in the returned warning, which callers prepend to their output.
func decodeArgs(args json.RawMessage, v any, known ...string) (string, error) {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	return unknownParamsWarning(args, known), nil
}

// unknownParamsWarning lists keys of an args object that no parameter uses.
func unknownParamsWarning(args json.RawMessage, known []string) string {
	parsed := gjson.ParseBytes(args)
	if !parsed.IsObject() {
		return ""
	}
	var unknown []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		k := key.String()
		for _, kn := range known {
			if kn == k {
				return true
			}
		}
		unknown = append(unknown, k)
		return true
	})
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	var sb strings.Builder
	for _, k := range unknown {
		fmt.Fprintf(&sb, "Unknown parameter '%s' was ignored\n", k)
	}
	return sb.String()
}

// TruncateHeadTail keeps the start and end of output when it exceeds max
// characters, replacing the middle with a marker.
func TruncateHeadTail(output string, max int) string {
	runes := []rune(output)
	if max <= 0 || len(runes) <= max {
		return output
	}
	half := max / 2
	removed := len(runes) - 2*half
	return string(runes[:half]) +
		fmt.Sprintf("\n\n[... %d characters truncated ...]\n\n", removed) +
		string(runes[len(runes)-half:])
}
