// Package retry provides the bounded backoff policies used around cluster
// writes: a constant policy for alert-save bulks and an exponential policy
// for alert moves.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule. A Policy is immutable; the
// settings layer swaps whole policies on reload so in-flight retries keep
// the schedule they started with.
type Policy struct {
	Initial  time.Duration // delay before the first retry
	Attempts int           // total invocation budget, minimum 1

	exponential bool
}

// Constant returns a policy that waits the same delay between attempts.
func Constant(initial time.Duration, attempts int) Policy {
	return Policy{Initial: initial, Attempts: attempts}
}

// Exponential returns a policy that doubles the delay after every attempt.
func Exponential(initial time.Duration, attempts int) Policy {
	return Policy{Initial: initial, Attempts: attempts, exponential: true}
}

// Delay returns the sleep before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if !p.exponential || n <= 1 {
		return p.Initial
	}
	d := p.Initial
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Retryable decides whether an error is worth another attempt.
type Retryable func(error) bool

// Any retries every error until the attempt budget runs out.
func Any(error) bool { return true }

// Do invokes op until it succeeds, the budget is exhausted, retryable says
// stop, or ctx is cancelled. The sleep between attempts follows the policy
// schedule and aborts early on ctx cancellation. The last error is returned
// unwrapped so callers can inspect its cause.
func (p Policy) Do(ctx context.Context, retryable Retryable, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if i == attempts || !retryable(err) {
			return err
		}
		if serr := sleep(ctx, p.Delay(i)); serr != nil {
			return serr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
