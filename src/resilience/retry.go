package resilience

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

// RetryPolicy retries an operation with capped exponential backoff.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Backoff returns the delay before retry number attempt (0-based): base * 2^attempt, capped.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or retries are exhausted.
// The last error is returned unchanged so callers can inspect it with errors.As.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, retryable func(error) bool) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || retryable == nil || !retryable(err) {
			return err
		}

		delay := p.Backoff(attempt)
		logger.WithFields(map[string]interface{}{
			"component": "retry",
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).WithError(err).Warn("retrying after transient error")

		if sErr := sleep(ctx, delay); sErr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
