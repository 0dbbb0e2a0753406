package tideline

import (
	"context"
	"sync"
	"time"
)

// window is a one-minute sliding window of weighted events.
type window struct {
	limit  int
	events []windowEvent
	total  int
}

type windowEvent struct {
	at     time.Time
	weight int
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		w.total -= w.events[i].weight
		i++
	}
	w.events = w.events[i:]
}

func (w *window) full() bool { return w.limit > 0 && w.total >= w.limit }

func (w *window) add(at time.Time, weight int) {
	if w.limit <= 0 || weight <= 0 {
		return
	}
	w.events = append(w.events, windowEvent{at: at, weight: weight})
	w.total += weight
}

// reopens returns when the oldest event leaves the window.
func (w *window) reopens(now time.Time) time.Duration {
	if len(w.events) == 0 {
		return 0
	}
	return w.events[0].at.Add(time.Minute).Sub(now)
}

// rateLimitProvider holds requests back until the per-minute request and
// token budgets allow them.
type rateLimitProvider struct {
	inner Provider

	mu       sync.Mutex
	requests window
	tokens   window
	now      func() time.Time
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.requests.limit = n }
}

// TPM sets the maximum input plus output tokens per minute, counted from
// each response's Usage. The request that crosses the budget completes;
// later requests wait for the window to slide.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tokens.limit = n }
}

// WithRateLimit wraps p with per-minute request and token budgets.
//
//	p = tideline.WithRateLimit(tideline.WithRetry(p), tideline.RPM(60), tideline.TPM(200000))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Diagnostics() string { return diagnostics(r.inner) }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	r.spend(resp.Usage)
	return resp, err
}

func (r *rateLimitProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamDelta) (ChatResponse, error) {
	if err := r.acquire(ctx); err != nil {
		close(ch)
		return ChatResponse{}, err
	}
	resp, err := r.inner.ChatStream(ctx, req, ch)
	r.spend(resp.Usage)
	return resp, err
}

// acquire waits until both budgets have room and records the request.
func (r *rateLimitProvider) acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.requests.prune(now)
		r.tokens.prune(now)
		if !r.requests.full() && !r.tokens.full() {
			r.requests.add(now, 1)
			r.mu.Unlock()
			return nil
		}
		var wait time.Duration
		for _, w := range []*window{&r.requests, &r.tokens} {
			if d := w.reopens(now); w.full() && (wait == 0 || d < wait) {
				wait = d
			}
		}
		r.mu.Unlock()

		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
}

func (r *rateLimitProvider) spend(u Usage) {
	r.mu.Lock()
	r.tokens.add(r.now(), u.InputTokens+u.OutputTokens)
	r.mu.Unlock()
}

var _ Provider = (*rateLimitProvider)(nil)
