package tools

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"
)

// searchTimeout bounds a single glob or grep call.
const searchTimeout = time.Minute

// errEnoughResults stops a walk once the result limit is reached.
var errEnoughResults = errors.New("result limit reached")

func searchTimedOut(tool, hint string) error {
	return NewToolErrorf(ErrTimeout, "%s timed out after %s; %s", tool, searchTimeout, hint)
}

// textLines reads a text file and splits it into lines without their
// terminators. Binary files are rejected with ErrBinaryFile.
func textLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, NewToolError(ErrFileNotFound, path)
	case err != nil:
		return nil, NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	case isBinaryContent(data):
		return nil, NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", path)
	case len(data) == 0:
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}

// isBinaryContent sniffs the first 512 bytes.
func isBinaryContent(data []byte) bool {
	sample := data[:min(len(data), 512)]
	if len(sample) == 0 {
		return false
	}
	ct := http.DetectContentType(sample)
	if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
		return false
	}
	return bytes.IndexByte(sample, 0) >= 0
}

// hiddenPath reports whether any element of a slash path starts with a dot.
func hiddenPath(path string) bool {
	for part := range strings.SplitSeq(path, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
