package cmd

import (
	"context"
	"errors"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/conversation"
)

const (
	exitOK        = 0
	exitError     = 1
	exitConfig    = 2
	exitBudget    = 3
	exitCancelled = 130
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case config.IsConfigError(err):
		return exitConfig
	case errors.Is(err, conversation.ErrBudgetExceeded):
		return exitBudget
	case errors.Is(err, conversation.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	}
	return exitError
}
