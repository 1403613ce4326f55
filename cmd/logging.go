package cmd

import (
	"io"
	"log/slog"
)

// setupLogging installs the default slog handler: warnings as text, or
// everything as JSON with --debug.
func setupLogging(w io.Writer, debug bool) {
	var h slog.Handler
	if debug {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})
	}
	slog.SetDefault(slog.New(h))
}
