package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxCount int) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Enabled: true, MaxCount: maxCount, Path: filepath.Join(t.TempDir(), "nested", "runs.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	run := &Run{Agent: "coder", Provider: "mock", Model: "mock-model", ToolMethod: "chat", Summary: TruncateSummary("list files\nplease")}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.ID == "" || run.Status != StatusActive {
		t.Fatalf("run = %+v", run)
	}

	if _, err := store.LoadTrace(ctx, run.ID); !errors.Is(err, ErrNoTrace) {
		t.Errorf("LoadTrace before Finish = %v", err)
	}

	trace := []byte(`{"format":"term-agent-trace"}`)
	if err := store.Finish(ctx, run.ID, StatusComplete, Metrics{Rounds: 2, InputTokens: 120, OutputTokens: 30}, trace, "abc123"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusComplete || got.Rounds != 2 || got.InputTokens != 120 || got.OutputTokens != 30 {
		t.Errorf("run = %+v", got)
	}
	if got.TraceDigest != "abc123" || got.Summary != "list files" || got.Agent != "coder" {
		t.Errorf("run = %+v", got)
	}

	byPrefix, err := store.Get(ctx, run.ID[:8])
	if err != nil || byPrefix.ID != run.ID {
		t.Errorf("Get by prefix = %v, %v", byPrefix, err)
	}

	data, err := store.LoadTrace(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if string(data) != string(trace) {
		t.Errorf("trace = %s", data)
	}

	if err := store.Delete(ctx, run.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestSQLiteStoreFinishUnknown(t *testing.T) {
	store := newTestStore(t, 0)
	err := store.Finish(context.Background(), "missing", StatusError, Metrics{}, nil, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish = %v", err)
	}
}

func TestSQLiteStoreListAndMaxCount(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 5 {
		r := &Run{
			Agent:      []string{"a", "b"}[i%2],
			Provider:   "mock",
			Model:      "m",
			ToolMethod: "function_call",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}

	runs, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3 after max_count cleanup", len(runs))
	}
	if runs[0].ID != ids[4] || runs[2].ID != ids[2] {
		t.Errorf("order = %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	onlyA, err := store.List(ctx, ListOptions{Agent: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyA) != 2 {
		t.Errorf("agent filter = %d runs", len(onlyA))
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	run := &Run{Provider: "mock", Model: "m", ToolMethod: "chat"}
	if err := first.Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if _, err := second.Get(ctx, run.ID); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestNoopStore(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	run := &Run{}
	if err := store.Create(context.Background(), run); err != nil || run.ID == "" {
		t.Errorf("Create = %v, id %q", err, run.ID)
	}
	if _, err := store.LoadTrace(context.Background(), run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTrace = %v", err)
	}
}

type failingStore struct {
	NoopStore
	calls int
}

func (f *failingStore) Finish(context.Context, string, RunStatus, Metrics, []byte, string) error {
	f.calls++
	return errors.New("disk full")
}

func TestLoggingStorePassesErrorsThrough(t *testing.T) {
	inner := &failingStore{}
	store := NewLoggingStore(inner)
	for range 2 {
		if err := store.Finish(context.Background(), "x", StatusComplete, Metrics{}, nil, ""); err == nil {
			t.Error("expected error")
		}
	}
	if inner.calls != 2 || !store.warned["finish"] {
		t.Errorf("calls = %d, warned = %v", inner.calls, store.warned)
	}
}

func TestTruncateSummary(t *testing.T) {
	long := ""
	for range 30 {
		long += "abcd "
	}
	tests := []struct {
		in, want string
	}{
		{"  hello\nworld", "hello"},
		{long, long[:97] + "..."},
	}
	for _, tt := range tests {
		if got := TruncateSummary(tt.in); got != tt.want {
			t.Errorf("TruncateSummary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
