package querycache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/wolfman30/clinic-console/internal/apierr"
)

// Fetcher loads one page for a key. Implementations must honor ctx.
type Fetcher[T Entity] func(ctx context.Context, key QueryKey) (Page[T], error)

// RetryPolicy bounds how a fetch is retried.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Retryable      func(error) bool
}

// DefaultRetryPolicy retries network failures three times with exponential
// backoff starting at 200ms, each attempt capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 5 * time.Second,
		Retryable:      apierr.Retryable,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	return p
}

// backoff returns the wait before the attempt following attempt n (1-based),
// with jitter in [d/2, d].
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseDelay << (n - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := int64(d / 2)
	return time.Duration(half + rand.Int63n(half+1))
}

// WithRetry wraps fetch with per-attempt timeouts and exponential backoff.
// Errors that the policy does not consider retryable are returned immediately.
func WithRetry[T Entity](fetch Fetcher[T], policy RetryPolicy) Fetcher[T] {
	policy = policy.withDefaults()
	return func(ctx context.Context, key QueryKey) (Page[T], error) {
		var lastErr error
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			page, err := fetchAttempt(ctx, fetch, key, policy.AttemptTimeout)
			if err == nil {
				return page, nil
			}
			lastErr = err
			if ctx.Err() != nil || !policy.Retryable(err) || attempt == policy.MaxAttempts {
				break
			}

			timer := time.NewTimer(policy.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Page[T]{}, lastErr
			case <-timer.C:
			}
		}
		return Page[T]{}, lastErr
	}
}

func fetchAttempt[T Entity](ctx context.Context, fetch Fetcher[T], key QueryKey, timeout time.Duration) (Page[T], error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := fetch(actx, key)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, apierr.ErrNetwork) {
		err = apierr.Network("fetch "+key.Entity, err)
	}
	return page, err
}
