package scraper

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds how often and how fast a failing call is repeated.
type Policy struct {
	// MaxAttempts is the total number of calls, the first one included.
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

func (p Policy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

// Transient marks err as worth retrying. Errors not marked stop Retry at once.
func Transient(err error) error {
	return retry.RetryableError(err)
}

// Retry calls fn until it succeeds, fails permanently, or the policy's
// attempts are spent. It reports how many attempts were made. The last
// error is returned unwrapped.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := 0
	v, err := retry.DoValue(ctx, p.backoff(), func(ctx context.Context) (T, error) {
		attempts++
		return fn(ctx)
	})
	return v, attempts, err
}
