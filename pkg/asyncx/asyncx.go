// Package asyncx holds small concurrency helpers: a bounded worker pool and
// retry with exponential backoff.
package asyncx

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Result holds the outcome of one settled operation.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the result carries no error.
func (r Result[T]) OK() bool { return r.Err == nil }

// PoolSettled processes items with at most workers goroutines and returns one
// Result per item, in the original order. It never short-circuits: every item
// is attempted even when others fail. Use it when unbounded concurrency would
// be harmful (DB connections, rate-limited APIs).
func PoolSettled[T any, R any](
	ctx context.Context,
	workers int,
	items []T,
	fn func(context.Context, T) (R, error),
) []Result[R] {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	type indexed struct {
		i    int
		item T
	}
	work := make(chan indexed, len(items))
	for i, item := range items {
		work <- indexed{i: i, item: item}
	}
	close(work)

	results := make([]Result[R], len(items))

	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range work {
				if err := ctx.Err(); err != nil {
					results[w.i] = Result[R]{Err: err}
					continue
				}
				v, err := fn(ctx, w.item)
				results[w.i] = Result[R]{Value: v, Err: err}
			}
		}()
	}
	wg.Wait()

	return results
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so RetryWithBackoff stops immediately and returns the
// original error. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff calls fn up to attempts times, doubling the delay after
// each failure starting from initialDelay. An error wrapped with Permanent
// aborts the remaining attempts. Context cancellation is honored between
// attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	attempts int,
	initialDelay time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var (
		zero  T
		last  error
		delay = initialDelay
	)
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		last = err

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return zero, last
}
