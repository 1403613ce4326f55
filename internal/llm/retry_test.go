package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestRetry(inner Provider, attempts int) *RetryProvider {
	p := WrapWithRetry(inner, RetryConfig{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	p.sleep = noSleep
	return p
}

func TestRetryProvider(t *testing.T) {
	transient := &ProviderError{Provider: "m", Kind: ErrorTransient, Err: errors.New("overloaded")}
	auth := &ProviderError{Provider: "m", Kind: ErrorAuth, StatusCode: 401, Err: errors.New("bad key")}
	rateLimit := errors.New("rate limit exceeded")

	tests := []struct {
		name         string
		script       func(p *MockProvider)
		attempts     int
		wantText     string
		wantErr      error
		wantRetries  int
		wantRequests int
	}{
		{
			name:         "transient then success",
			script:       func(p *MockProvider) { p.AddError(transient).AddTextResponse("ok") },
			attempts:     3,
			wantText:     "ok",
			wantRetries:  1,
			wantRequests: 2,
		},
		{
			name:         "fatal passes through",
			script:       func(p *MockProvider) { p.AddError(auth).AddTextResponse("never") },
			attempts:     5,
			wantErr:      auth,
			wantRequests: 1,
		},
		{
			name:         "gives up after max attempts",
			script:       func(p *MockProvider) { p.AddError(rateLimit).AddError(rateLimit).AddError(rateLimit) },
			attempts:     2,
			wantErr:      rateLimit,
			wantRetries:  1,
			wantRequests: 2,
		},
		{
			name:         "zero attempts still tries once",
			script:       func(p *MockProvider) { p.AddTextResponse("once") },
			attempts:     0,
			wantText:     "once",
			wantRequests: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := NewMockProvider("m")
			tt.script(inner)
			p := newTestRetry(inner, tt.attempts)

			stream, err := p.Stream(context.Background(), Request{})
			if err != nil {
				t.Fatal(err)
			}
			var retries []Event
			resp, err := Drain(context.Background(), stream, nil, func(ev Event) { retries = append(retries, ev) })
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && resp.Text != tt.wantText {
				t.Errorf("text = %q, want %q", resp.Text, tt.wantText)
			}
			if len(retries) != tt.wantRetries {
				t.Errorf("retries = %d, want %d", len(retries), tt.wantRetries)
			}
			for i, ev := range retries {
				if ev.RetryAttempt != i+1 || ev.RetryMaxAttempts != max(tt.attempts, 1) {
					t.Errorf("retry event %d = %+v", i, ev)
				}
			}
			if len(inner.Requests) != tt.wantRequests {
				t.Errorf("requests = %d, want %d", len(inner.Requests), tt.wantRequests)
			}
		})
	}
}

// failAfterText streams some text and then fails transiently.
type failAfterText struct {
	*MockProvider
}

func (f failAfterText) Stream(ctx context.Context, req Request) (Stream, error) {
	if s, err := f.MockProvider.Stream(ctx, req); err == nil {
		s.Close()
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "partial"}
		return errors.New("503 service unavailable")
	}), nil
}

func TestRetryProviderDoesNotRetryAfterOutput(t *testing.T) {
	inner := failAfterText{NewMockProvider("m").WithEcho()}
	p := newTestRetry(inner, 5)

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := Drain(context.Background(), stream, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v, want the mid-stream failure", err)
	}
	if resp.Text != "partial" {
		t.Errorf("text = %q", resp.Text)
	}
	if n := len(inner.Requests); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestBackoff(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}}

	tests := []struct {
		name     string
		attempt  int
		err      error
		min, max time.Duration
	}{
		{"provider hint", 1, &ProviderError{RetryAfter: 3 * time.Second}, 3 * time.Second, 3 * time.Second},
		{"hint in message", 1, errors.New("please retry-after: 4"), 4 * time.Second, 4 * time.Second},
		{"hint capped", 1, errors.New("Retry-After: 600"), 10 * time.Second, 10 * time.Second},
		{"exponential capped", 10, errors.New("x"), 10 * time.Second, 10 * time.Second},
		{"huge attempt", 80, errors.New("x"), 10 * time.Second, 10 * time.Second},
		{"jittered", 2, errors.New("x"), 1500 * time.Millisecond, 2500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.backoff(tt.attempt, tt.err)
			if got < tt.min || got > tt.max {
				t.Errorf("backoff = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"long wait", &ProviderError{Kind: ErrorTransient, RetryAfter: time.Hour}, false},
		{"transient", &ProviderError{Kind: ErrorTransient}, true},
		{"bad gateway text", errors.New("502 Bad Gateway"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
