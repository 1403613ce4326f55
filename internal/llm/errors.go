package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	ErrorTransient     ErrorKind = "transient"      // network, rate limit, overload: retried
	ErrorAuth          ErrorKind = "auth"           // bad or missing credentials
	ErrorQuota         ErrorKind = "quota"          // billing or hard quota exhausted
	ErrorContextLength ErrorKind = "context_length" // request rejected as over the model's window
	ErrorFatal         ErrorKind = "fatal"          // anything else the caller cannot recover from
)

// ProviderError is returned by providers for any failure talking to a model.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
func (e *ProviderError) Transient() bool {
	return e.Kind == ErrorTransient
}

// IsLongWait returns true if the retry wait is too long for automatic retry.
func (e *ProviderError) IsLongWait() bool {
	return e.RetryAfter > 2*time.Minute
}

// AsProviderError returns the ProviderError wrapped in err, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classifyError wraps a raw SDK or transport error into a ProviderError.
// Context cancellation is passed through untouched.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	status := 0
	var oaErr *openai.Error
	var anErr *anthropic.Error
	var gErr genai.APIError
	switch {
	case errors.As(err, &oaErr):
		status = oaErr.StatusCode
	case errors.As(err, &anErr):
		status = anErr.StatusCode
	case errors.As(err, &gErr):
		status = gErr.Code
	}

	return &ProviderError{
		Provider:   provider,
		Kind:       kindFor(status, err),
		StatusCode: status,
		Err:        err,
	}
}

func kindFor(status int, err error) ErrorKind {
	msg := strings.ToLower(err.Error())

	if isContextLengthMessage(msg) {
		return ErrorContextLength
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorAuth
	case http.StatusPaymentRequired:
		return ErrorQuota
	case http.StatusTooManyRequests:
		if strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "billing") {
			return ErrorQuota
		}
		return ErrorTransient
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return ErrorTransient
	}
	if status >= 400 {
		return ErrorFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || isRetryableMessage(msg) {
		return ErrorTransient
	}
	if strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") {
		return ErrorAuth
	}
	return ErrorFatal
}

func isContextLengthMessage(msg string) bool {
	return strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "input token count")
}

// isRetryableMessage matches transient failures that carry no status code.
func isRetryableMessage(msg string) bool {
	for _, needle := range []string{
		"rate limit",
		"too many requests",
		"overloaded",
		"bad gateway",
		"service unavailable",
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"no such host",
		"unexpected eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
