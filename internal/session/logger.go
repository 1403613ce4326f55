package session

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingStore wraps a Store and logs the first failure of each write
// operation. Errors are still returned; callers treat history as best
// effort and usually ignore them.
type LoggingStore struct {
	Store

	mu     sync.Mutex
	warned map[string]bool
}

func NewLoggingStore(store Store) *LoggingStore {
	return &LoggingStore{Store: store, warned: make(map[string]bool)}
}

// warn logs err the first time op fails and returns it unchanged.
func (s *LoggingStore) warn(op string, err error) error {
	if err == nil {
		return nil
	}
	s.mu.Lock()
	first := !s.warned[op]
	s.warned[op] = true
	s.mu.Unlock()
	if first {
		slog.Warn("run history write failed", "op", op, "error", err)
	}
	return err
}

func (s *LoggingStore) Create(ctx context.Context, r *Run) error {
	return s.warn("create", s.Store.Create(ctx, r))
}

func (s *LoggingStore) Finish(ctx context.Context, id string, status RunStatus, m Metrics, trace []byte, digest string) error {
	return s.warn("finish", s.Store.Finish(ctx, id, status, m, trace, digest))
}

func (s *LoggingStore) Delete(ctx context.Context, id string) error {
	return s.warn("delete", s.Store.Delete(ctx, id))
}
