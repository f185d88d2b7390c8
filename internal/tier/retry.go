package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/types"
)

// RetryPolicy retries transient storage errors with capped exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicyFromConfig converts the YAML retry block.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Duration(),
		MaxDelay:    c.MaxDelay.Duration(),
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Exhaustion wraps both ErrRetriesExhausted
// and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(p.backoff(i - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			case <-t.C:
			}
		}
		err = fn(ctx)
		if err == nil || !types.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", types.ErrRetriesExhausted, attempts, err)
}

func (p RetryPolicy) backoff(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if n > 30 {
		n = 30
	}
	d := base << uint(n)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}
