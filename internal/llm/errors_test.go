package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestKindFor(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, errors.New("bad key"), ErrorAuth},
		{"forbidden", http.StatusForbidden, errors.New("nope"), ErrorAuth},
		{"payment", http.StatusPaymentRequired, errors.New("pay"), ErrorQuota},
		{"rate limit", http.StatusTooManyRequests, errors.New("slow down"), ErrorTransient},
		{"quota 429", http.StatusTooManyRequests, errors.New("insufficient_quota"), ErrorQuota},
		{"overloaded", 529, errors.New("overloaded"), ErrorTransient},
		{"server", http.StatusBadGateway, errors.New("bad gateway"), ErrorTransient},
		{"bad request", http.StatusBadRequest, errors.New("invalid"), ErrorFatal},
		{"context length", http.StatusBadRequest, errors.New("This model's maximum context length is 8192 tokens"), ErrorContextLength},
		{"no status network", 0, errors.New("dial tcp: connection refused"), ErrorTransient},
		{"no status deadline", 0, fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrorTransient},
		{"no status api key", 0, errors.New("missing API key"), ErrorAuth},
		{"no status other", 0, errors.New("weird"), ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindFor(tt.status, tt.err); got != tt.want {
				t.Fatalf("kindFor(%d, %q)=%q, want %q", tt.status, tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	if err := classifyError("x", nil); err != nil {
		t.Fatalf("nil in, got %v", err)
	}
	if err := classifyError("x", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancel should pass through, got %v", err)
	}
	if _, ok := AsProviderError(classifyError("x", context.Canceled)); ok {
		t.Fatal("cancel must not become a ProviderError")
	}

	orig := &ProviderError{Provider: "p", Kind: ErrorAuth, Err: errors.New("k")}
	if got := classifyError("x", orig); got != orig {
		t.Fatal("existing ProviderError should be returned unchanged")
	}

	raw := errors.New("service unavailable")
	err := classifyError("openai", raw)
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if pe.Provider != "openai" || !pe.Transient() || !errors.Is(err, raw) {
		t.Fatalf("unexpected %+v", pe)
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	e := &ProviderError{Provider: "anthropic", Kind: ErrorAuth, StatusCode: 401, Err: errors.New("invalid x-api-key")}
	if e.Error() != "anthropic: auth error (status 401): invalid x-api-key" {
		t.Fatalf("Error()=%q", e.Error())
	}
	if e.Transient() {
		t.Fatal("auth is not transient")
	}
	long := &ProviderError{Kind: ErrorTransient, RetryAfter: 5 * time.Minute}
	if !long.IsLongWait() {
		t.Fatal("5m wait should be long")
	}
}
