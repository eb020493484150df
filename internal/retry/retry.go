package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ejjays/RN-chatapp/internal/apperr"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// Do runs op until it succeeds, fails permanently, or the attempts run out.
// Only transient errors (see apperr.IsTransient) are retried.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var last error
	err := backoff.Retry(func() error {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !apperr.IsTransient(last) {
			return backoff.Permanent(last)
		}
		return last
	}, p.backOff(ctx))
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return apperr.Storage("retry", err)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
