// Package session keeps a history of runs and their trace artifacts.
package session

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/samsaffron/term-agent/internal/config"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// ErrNoTrace is returned by LoadTrace for a run that has not finished.
var ErrNoTrace = errors.New("run has no trace")

// Store persists runs.
type Store interface {
	Create(ctx context.Context, r *Run) error
	// Finish records the outcome of a run together with its encoded trace.
	Finish(ctx context.Context, id string, status RunStatus, m Metrics, trace []byte, digest string) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, opts ListOptions) ([]Run, error)
	LoadTrace(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Config holds run store configuration.
type Config struct {
	Enabled  bool
	MaxCount int    // Keep at most N runs (0=unlimited)
	Path     string // Database path; empty uses the data dir
}

// ConfigFrom converts the loaded sessions section.
func ConfigFrom(c config.SessionsConfig) Config {
	return Config{Enabled: c.Enabled, MaxCount: c.MaxCount}
}

// GetDBPath returns the default database path.
func GetDBPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "runs.db"), nil
}

// NewStore creates a Store for cfg. A disabled store discards everything.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
