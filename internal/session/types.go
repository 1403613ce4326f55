package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus is how a run ended.
type RunStatus string

const (
	StatusActive    RunStatus = "active"    // still running, or the process died
	StatusComplete  RunStatus = "complete"  // ended normally
	StatusBudget    RunStatus = "budget"    // stopped on the token budget or round limit
	StatusCancelled RunStatus = "cancelled" // cancelled by the user
	StatusError     RunStatus = "error"     // provider or config failure
)

// Run is one recorded invocation of the agent.
type Run struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	ToolMethod string    `json:"tool_method"`
	Summary    string    `json:"summary,omitempty"` // first line of the first prompt
	CWD        string    `json:"cwd,omitempty"`
	Status     RunStatus `json:"status"`
	Metrics
	TraceDigest string    `json:"trace_digest,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metrics are the counters stored when a run finishes.
type Metrics struct {
	Rounds       int `json:"rounds"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ListOptions configures run listing.
type ListOptions struct {
	Agent  string
	Status RunStatus
	Limit  int // 0 uses the default of 50
	Offset int
}

// NewID returns a fresh run ID.
func NewID() string {
	return uuid.NewString()
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	return content
}
