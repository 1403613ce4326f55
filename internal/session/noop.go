package session

import "context"

// NoopStore is used when run history is disabled. Writes are discarded and
// reads find nothing.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Finish(ctx context.Context, id string, status RunStatus, m Metrics, trace []byte, digest string) error {
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Run, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	return nil, nil
}

func (s *NoopStore) LoadTrace(ctx context.Context, id string) ([]byte, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
