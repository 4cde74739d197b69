package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config captures the retry policy applied around gateway calls. Retryable
// classifies which failures are worth another attempt; a nil predicate retries
// everything up to MaxAttempts.
type Config struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Retryable       func(error) bool
}

// Retrier decorates operations with bounded exponential backoff. It lives
// outside the sync logic; gateways are constructed with one and callers never
// see partial attempts.
type Retrier struct {
	cfg Config
}

// New constructs a Retrier, applying defaults for zero-valued knobs.
func New(cfg Config) *Retrier {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &Retrier{cfg: cfg}
}

// Do runs fn until it succeeds, exhausts the attempt budget, or returns a
// non-retryable error. The last error is returned unwrapped so callers can
// classify it with errors.Is/As.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval

	wrapped := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.cfg.Retryable != nil && !r.cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.MaxAttempts-1)), ctx))
}

// Result runs fn through the retrier and returns its value alongside the final error.
func Result[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
