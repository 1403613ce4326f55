package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig bounds automatic retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// RetryProvider re-issues a request when the backend fails transiently
// before producing any output. Each wait is announced with an EventRetry.
// Once an event has been forwarded a failure is final, since the consumer
// has already seen part of the reply.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry wraps p with the given retry policy.
func WrapWithRetry(p Provider, config RetryConfig) *RetryProvider {
	config.MaxAttempts = max(config.MaxAttempts, 1)
	return &RetryProvider{inner: p, config: config, sleep: sleepCtx}
}

func (r *RetryProvider) Name() string               { return r.inner.Name() }
func (r *RetryProvider) Credential() string         { return r.inner.Credential() }
func (r *RetryProvider) Capabilities() Capabilities { return r.inner.Capabilities() }

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for attempt := 1; ; attempt++ {
			forwarded, err := r.attempt(ctx, req, events)
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case forwarded || attempt >= r.config.MaxAttempts || !isRetryable(err):
				return err
			}

			wait := r.backoff(attempt, err)
			slog.Debug("retrying provider request", "provider", r.inner.Name(), "attempt", attempt, "wait", wait, "error", err)
			notice := Event{
				Type:             EventRetry,
				RetryAttempt:     attempt,
				RetryMaxAttempts: r.config.MaxAttempts,
				RetryWaitSecs:    wait.Seconds(),
				Err:              err,
			}
			if err := emit(ctx, events, notice); err != nil {
				return err
			}
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}), nil
}

// attempt runs one request and copies its events to out. forwarded reports
// whether any event reached out before the failure.
func (r *RetryProvider) attempt(ctx context.Context, req Request, out chan<- Event) (forwarded bool, err error) {
	stream, err := r.inner.Stream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}
		if ev.Type == EventError && ev.Err != nil {
			return forwarded, ev.Err
		}
		if err := emit(ctx, out, ev); err != nil {
			return forwarded, err
		}
		forwarded = true
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Transient() && !pe.IsLongWait()
	}
	return isRetryableMessage(strings.ToLower(err.Error()))
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// backoff picks the wait before the next attempt: a server-provided hint
// when there is one, otherwise exponential with ±25% jitter. Both are capped
// at MaxBackoff.
func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	if hint := retryAfterHint(err); hint > 0 {
		return min(hint, r.config.MaxBackoff)
	}
	d := r.config.BaseBackoff << (attempt - 1)
	if d <= 0 || d > r.config.MaxBackoff {
		return r.config.MaxBackoff
	}
	jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(d))
	return min(d+jitter, r.config.MaxBackoff)
}

func retryAfterHint(err error) time.Duration {
	if err == nil {
		return 0
	}
	if pe, ok := AsProviderError(err); ok && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
		if secs, _ := strconv.Atoi(m[1]); secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
