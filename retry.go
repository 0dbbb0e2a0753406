package tideline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryProvider wraps a Provider and retries transient HTTP errors
// (429 Too Many Requests, 503 Service Unavailable) with exponential backoff.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall budget across attempts; 0 = no limit
	logger      *slog.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt (default: 1s).
// Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout bounds the whole retry sequence. Zero disables it.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger sets the logger for retry events. Retries log at WARN,
// exhausted attempts at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors. When the
// error carries a Retry-After duration the delay is at least that long.
//
//	p := tideline.WithRetry(openaicompat.NewProvider(key, model, baseURL), tideline.RetryMaxAttempts(5))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

// Diagnostics forwards to the wrapped provider when it reports any.
func (r *retryProvider) Diagnostics() string {
	if d, ok := r.inner.(DiagnosticsReporter); ok {
		return d.Diagnostics()
	}
	return ""
}

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		last = err
		r.logRetry(err, i)
		if i < r.maxAttempts-1 {
			if werr := sleepCtx(ctx, retryDelay(r.baseDelay, i, err)); werr != nil {
				return ChatResponse{}, werr
			}
		}
	}
	r.logger.Error("all retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return ChatResponse{}, last
}

// ChatStream retries only while nothing has been forwarded to ch. Once a
// delta went out, errors pass through to avoid duplicated output.
func (r *retryProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamDelta) (ChatResponse, error) {
	defer close(ch)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan StreamDelta, 64)
		var (
			resp      ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var sent bool
		for d := range mid {
			sent = true
			ch <- d
		}
		<-done

		if streamErr == nil || !isTransient(streamErr) || sent {
			return resp, streamErr
		}
		last = streamErr
		r.logRetry(streamErr, i)
		if i < r.maxAttempts-1 {
			if werr := sleepCtx(ctx, retryDelay(r.baseDelay, i, streamErr)); werr != nil {
				return ChatResponse{}, werr
			}
		}
	}
	r.logger.Error("all retry attempts exhausted (stream)",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return ChatResponse{}, last
}

func (r *retryProvider) logRetry(err error, attempt int) {
	r.logger.Warn("retrying transient error",
		"provider", r.inner.Name(),
		"status", statusOf(err),
		"attempt", attempt+1,
		"max_attempts", r.maxAttempts)
}

// withTimeout returns ctx with the retry deadline applied, unless ctx
// already expires earlier.
func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable)
}

func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay is max(exponential backoff, server Retry-After).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > backoff {
		return e.RetryAfter
	}
	return backoff
}

// retryBackoff returns base * 2^i plus up to 50% jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// ParseRetryAfter parses a Retry-After header given either as delay seconds
// or as an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ Provider = (*retryProvider)(nil)
