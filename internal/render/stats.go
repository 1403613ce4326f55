package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samsaffron/term-agent/internal/event"
)

// Stats accumulates run statistics from events.
type Stats struct {
	Start        time.Time
	Turns        int
	ToolCalls    int
	ToolTime     time.Duration
	InputTokens  int
	OutputTokens int
}

// NewStats starts the clock.
func NewStats() *Stats {
	return &Stats{Start: time.Now()}
}

// Observe folds one event into the totals.
func (s *Stats) Observe(ev event.Event) {
	switch p := ev.Payload.(type) {
	case event.TurnStarted:
		s.Turns++
	case event.ToolInvoked:
		s.ToolCalls++
	case event.ToolCompleted:
		s.ToolTime += p.Duration
	case event.Usage:
		s.InputTokens = p.TotalInputTokens
		s.OutputTokens = p.TotalOutputTokens
	}
}

// Render returns the stats as a single line, e.g.
// "Stats: 4.2s (tools 1.1s) | 2 turns | 1.2k in / 310 out | 3 tools".
func (s *Stats) Render() string {
	total := time.Since(s.Start)
	timeStr := fmt.Sprintf("%.1fs", total.Seconds())
	if s.ToolCalls > 0 {
		timeStr = fmt.Sprintf("%.1fs (tools %.1fs)", total.Seconds(), s.ToolTime.Seconds())
	}
	return fmt.Sprintf("Stats: %s | %d %s | %s in / %s out | %d tools",
		timeStr, s.Turns, plural(s.Turns, "turn"),
		formatTokens(s.InputTokens), formatTokens(s.OutputTokens), s.ToolCalls)
}

// formatTokens formats a token count in compact form: 1, 999, 1.5k, 12k.
func formatTokens(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	}
	k := float64(n) / 1000
	if k < 10 {
		return strings.TrimSuffix(strconv.FormatFloat(k, 'f', 1, 64), ".0") + "k"
	}
	return strconv.FormatFloat(k, 'f', 0, 64) + "k"
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
