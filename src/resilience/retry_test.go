package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func noSleepPolicy(retries int, slept *[]time.Duration) RetryPolicy {
	p := RetryPolicy{MaxRetries: retries, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}

	assert.Equal(t, 500*time.Millisecond, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 8*time.Second, p.Backoff(30))
}

func TestRetryPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(2, &slept)

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errTransient
		}
		return nil
	}, isTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestRetryPolicy_ExhaustsAndReturnsLastError(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(2, &slept)

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return errTransient
	}, isTransient)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_DoesNotRetryFatal(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(5, &slept)

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return errFatal
	}, isTransient)

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, func(_ context.Context, _ int) error {
		calls++
		cancel()
		return errTransient
	}, isTransient)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
