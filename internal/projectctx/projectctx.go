// Package projectctx gathers the project and shell context that is pinned
// at the start of every conversation.
package projectctx

import (
	"context"
	"log/slog"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/transcript"
)

// Provider returns pinned context turns. A provider with nothing to
// contribute returns no turns and no error.
type Provider interface {
	Name() string
	Turns(ctx context.Context) ([]transcript.Turn, error)
}

// Collect gathers turns from every provider in order. A failing provider is
// logged and skipped.
func Collect(ctx context.Context, providers ...Provider) []transcript.Turn {
	var turns []transcript.Turn
	for _, p := range providers {
		if p == nil {
			continue
		}
		got, err := p.Turns(ctx)
		if err != nil {
			slog.Warn("project context unavailable", "source", p.Name(), "error", err)
			continue
		}
		turns = append(turns, got...)
	}
	return turns
}

func pinned(name, text string) transcript.Turn {
	return transcript.Turn{
		Role:    transcript.RoleSystem,
		Message: llm.SystemText(text),
		Pin:     transcript.PinProjectContext,
		Name:    name,
	}
}
