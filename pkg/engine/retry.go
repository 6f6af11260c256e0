package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kode4food/minflow/pkg/events"
	"github.com/kode4food/minflow/pkg/log"
)

type (
	// BackoffType selects how the wait grows between Exec attempts
	BackoffType string

	// RetryPolicy governs how often Exec is attempted and how long the
	// engine waits between attempts
	RetryPolicy struct {
		Attempts int
		Wait     time.Duration
		MaxWait  time.Duration
		Backoff  BackoffType
	}

	backoffCalculator func(base time.Duration, retry int) time.Duration

	attemptFunc  func(context.Context) (any, error)
	fallbackFunc func(context.Context, error) (any, error)
)

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

var backoffCalculators = map[BackoffType]backoffCalculator{
	BackoffFixed: func(base time.Duration, _ int) time.Duration {
		return base
	},
	BackoffLinear: func(base time.Duration, retry int) time.Duration {
		return base * time.Duration(retry+1)
	},
	BackoffExponential: func(base time.Duration, retry int) time.Duration {
		delay := float64(base) * math.Pow(2, float64(retry))
		if delay >= math.MaxInt64 {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	},
}

// DefaultRetryPolicy makes a single attempt with no wait
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 1,
		Backoff:  BackoffFixed,
	}
}

// IsValid reports whether b names a known backoff
func (b BackoffType) IsValid() bool {
	_, ok := backoffCalculators[b]
	return ok
}

// Delay returns the wait before retry number retry (zero-based), capped
// by MaxWait when it is set
func (p RetryPolicy) Delay(retry int) time.Duration {
	if p.Wait <= 0 {
		return 0
	}
	calculator, ok := backoffCalculators[p.Backoff]
	if !ok {
		calculator = backoffCalculators[BackoffFixed]
	}
	delay := calculator(p.Wait, retry)
	if p.MaxWait > 0 {
		return min(delay, p.MaxWait)
	}
	return delay
}

func (p RetryPolicy) normalize() RetryPolicy {
	p.Attempts = max(p.Attempts, 1)
	p.Wait = max(p.Wait, 0)
	p.MaxWait = max(p.MaxWait, 0)
	if !p.Backoff.IsValid() {
		p.Backoff = BackoffFixed
	}
	return p
}

func execWithRetry(ctx context.Context, n Node, prep any) (any, error) {
	return retry(ctx, n,
		func(context.Context) (any, error) {
			return n.Exec(prep)
		},
		func(_ context.Context, err error) (any, error) {
			return n.ExecFallback(prep, err)
		},
	)
}

func execAsyncWithRetry(
	ctx context.Context, n AsyncNode, prep any,
) (any, error) {
	return retry(ctx, n,
		func(ctx context.Context) (any, error) {
			return n.ExecAsync(ctx, prep)
		},
		func(ctx context.Context, err error) (any, error) {
			return n.ExecFallbackAsync(ctx, prep, err)
		},
	)
}

func retry(
	ctx context.Context, v Vertex, exec attemptFunc, fallback fallbackFunc,
) (any, error) {
	policy := v.Retry()
	attempts := max(policy.Attempts, 1)
	logger := nodeLogger(ctx, v)

	var err error
	for attempt := 1; ; attempt++ {
		var res any
		res, err = protect(func() (any, error) {
			return exec(ctx)
		})
		if err == nil {
			return res, nil
		}
		if attempt >= attempts {
			break
		}

		logger.Warn("Exec failed, retrying",
			log.Attempt(attempt),
			log.Error(err))
		emit(ctx, v, events.ExecRetrying, func(ev *events.Event) {
			ev.Attempt = attempt
			ev.Error = err.Error()
		})

		if err := sleep(ctx, policy.Delay(attempt-1)); err != nil {
			return nil, err
		}
	}

	emit(ctx, v, events.ExecFallback, func(ev *events.Event) {
		ev.Attempt = attempts
		ev.Error = err.Error()
	})
	res, ferr := protect(func() (any, error) {
		return fallback(ctx, err)
	})
	switch {
	case ferr == nil:
		return res, nil
	case errors.Is(ferr, err):
		return nil, fmt.Errorf("%w after %d attempts: %w",
			ErrExec, attempts, ferr)
	default:
		return nil, fmt.Errorf("%w: %w", ErrFallback, ferr)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func protect[T any](fn func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res = zero
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}
