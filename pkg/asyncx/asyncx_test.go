package asyncx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaydata/stripebridge/pkg/asyncx"
)

func TestPoolSettledPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	results := asyncx.PoolSettled(context.Background(), 3, items, func(_ context.Context, n int) (int, error) {
		return n * 10, nil
	})

	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for i, r := range results {
		if !r.OK() || r.Value != items[i]*10 {
			t.Fatalf("result[%d] = %+v, want %d", i, r, items[i]*10)
		}
	}
}

func TestPoolSettledNeverShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	items := []int{0, 1, 2, 3}
	var calls int32

	results := asyncx.PoolSettled(context.Background(), 2, items, func(_ context.Context, n int) (int, error) {
		atomic.AddInt32(&calls, 1)
		if n%2 == 0 {
			return 0, boom
		}
		return n, nil
	})

	if calls != int32(len(items)) {
		t.Fatalf("fn called %d times, want %d", calls, len(items))
	}
	if results[0].Err != boom || results[2].Err != boom {
		t.Fatalf("even items should fail: %+v", results)
	}
	if !results[1].OK() || !results[3].OK() {
		t.Fatalf("odd items should succeed: %+v", results)
	}
}

func TestPoolSettledBoundsConcurrency(t *testing.T) {
	var active, peak int32
	items := make([]int, 20)

	asyncx.PoolSettled(context.Background(), 4, items, func(_ context.Context, _ int) (int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 0, nil
	})

	if peak > 4 {
		t.Fatalf("peak concurrency %d exceeds worker bound 4", peak)
	}
}

func TestRetryWithBackoffEventualSuccess(t *testing.T) {
	var calls int
	v, err := asyncx.RetryWithBackoff(context.Background(), 3, time.Millisecond, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got (%q, %v), want (ok, nil)", v, err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	boom := errors.New("permanent")
	var calls int
	_, err := asyncx.RetryWithBackoff(context.Background(), 2, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if err != boom {
		t.Fatalf("got %v, want the last error", err)
	}
	if calls != 2 {
		t.Fatalf("fn called %d times, want 2", calls)
	}
}

func TestRetryWithBackoffStopsOnPermanent(t *testing.T) {
	boom := errors.New("credentials rejected")
	var calls int
	_, err := asyncx.RetryWithBackoff(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, asyncx.Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the unwrapped permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
}

func TestRetryWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := asyncx.RetryWithBackoff(ctx, 5, time.Millisecond, func(context.Context) (int, error) {
		t.Fatal("fn should not run on a cancelled context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
