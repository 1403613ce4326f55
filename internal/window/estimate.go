// Package window keeps conversation history inside a token budget.
package window

import (
	"unicode/utf8"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/transcript"
)

// Estimator assigns a token cost to a message. Implementations must be pure:
// the same message always costs the same.
type Estimator interface {
	Cost(msg llm.Message) int
}

// CharEstimator approximates tokens from character counts.
type CharEstimator struct {
	CharsPerToken int // characters per token, 4 when zero
	Overhead      int // fixed per-message cost for role and framing
}

// DefaultEstimator is the estimator the engine uses unless told otherwise.
var DefaultEstimator Estimator = CharEstimator{CharsPerToken: 4, Overhead: 4}

// Cost implements Estimator.
func (e CharEstimator) Cost(msg llm.Message) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	chars := 0
	for _, p := range msg.Parts {
		chars += utf8.RuneCountInString(p.Text)
		if p.ToolCall != nil {
			chars += utf8.RuneCountInString(p.ToolCall.Name) + utf8.RuneCount(p.ToolCall.Arguments)
		}
		if p.ToolResult != nil {
			chars += utf8.RuneCountInString(p.ToolResult.Name) + utf8.RuneCountInString(p.ToolResult.Content)
		}
	}
	return (chars+per-1)/per + e.Overhead
}

// Estimate returns the total cost of turns under e.
func Estimate(e Estimator, turns []transcript.Turn) int {
	total := 0
	for _, t := range turns {
		total += e.Cost(t.Message)
	}
	return total
}

// TextCost is the cost of a bare string, used for the pending part of a
// request that is not a turn (catalog addenda, tool specs).
func TextCost(e Estimator, text string) int {
	if text == "" {
		return 0
	}
	return e.Cost(llm.SystemText(text))
}
