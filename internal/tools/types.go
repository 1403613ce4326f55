// Package tools provides the local built-in tools the agent can call without
// a tool server.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samsaffron/term-agent/internal/llm"
)

// Tool specification names
const (
	ListFilesToolName = "list_files"
	ReadFileToolName  = "read_file"
	GlobToolName      = "glob"
	GrepToolName      = "grep"
	ShellToolName     = "shell"
)

// AllToolNames returns all built-in tool names in catalog order.
func AllToolNames() []string {
	return []string{
		ListFilesToolName,
		ReadFileToolName,
		GlobToolName,
		GrepToolName,
		ShellToolName,
	}
}

// ValidToolName checks if a name is a built-in tool.
func ValidToolName(name string) bool {
	for _, n := range AllToolNames() {
		if n == name {
			return true
		}
	}
	return false
}

// Tool is a local tool. Execute returns the text fed back to the model; a
// non-nil error means the call failed and its message is fed back instead.
type Tool interface {
	Spec() llm.ToolSpec
	Preview(args json.RawMessage) string
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolErrorType classifies tool failures.
type ToolErrorType string

const (
	ErrFileNotFound     ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams    ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed  ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied ToolErrorType = "PERMISSION_DENIED"
	ErrBinaryFile       ToolErrorType = "BINARY_FILE"
	ErrTimeout          ToolErrorType = "TIMEOUT"
)

// ToolError is a structured tool failure.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}
