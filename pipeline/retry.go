package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/seamline-io/conveyor/metrics"
)

// retryPolicy bounds automatic re-attempts after transient collaborator
// failures. Each re-attempt is a fresh ledger attempt; committed ledger and
// store writes are never themselves retried.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	collector   *metrics.Collector
}

func newRetryPolicy(maxAttempts int, backoff, callTimeout time.Duration, collector *metrics.Collector) retryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retryPolicy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		callTimeout: callTimeout,
		sleep:       sleepCtx,
		collector:   collector,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

// call invokes one collaborator with the per-call timeout. The name labels
// the collaborator in failure causes. A deadline overrun is a transient
// failed attempt, not a crash.
func (p retryPolicy) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	p.collector.IncCollabCall()
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
	}
	defer cancel()
	if err := fn(callCtx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// backoffBefore sleeps the exponential delay preceding re-attempt n
// (base, 2x, 4x, ...). n counts from 2.
func (p retryPolicy) backoffBefore(ctx context.Context, n int) error {
	p.collector.IncCollabRetry()
	if n < 2 {
		return nil
	}
	return p.sleep(ctx, p.backoff<<(n-2))
}
