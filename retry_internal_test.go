package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	fixed := RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, IntervalMillis: 100}
	require.Equal(t, 100*time.Millisecond, backoffDelay(fixed, 1))
	require.Equal(t, 100*time.Millisecond, backoffDelay(fixed, 2))

	exp := RetryPolicy{MaxAttempts: 5, Backoff: BackoffExponential, IntervalMillis: 100}
	require.Equal(t, 100*time.Millisecond, backoffDelay(exp, 1))
	require.Equal(t, 200*time.Millisecond, backoffDelay(exp, 2))
	require.Equal(t, 400*time.Millisecond, backoffDelay(exp, 3))

	// Unset interval falls back to a second.
	require.Equal(t, time.Second, backoffDelay(RetryPolicy{}, 1))

	// The doubling is capped.
	big := RetryPolicy{Backoff: BackoffExponential, IntervalMillis: 60_000}
	require.Equal(t, time.Hour, backoffDelay(big, 20))

	// Jitter spreads by at most 50%.
	jittered := RetryPolicy{Backoff: BackoffExponential, IntervalMillis: 100, Jitter: true}
	for i := 0; i < 50; i++ {
		d := backoffDelay(jittered, 2)
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
		require.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestEffectiveRetry(t *testing.T) {
	e := New(nil, nil, &StaticActionRegistry{}, nil)

	p := e.effectiveRetry(&Step{})
	require.Equal(t, e.opts.defaultRetry, p)

	p = e.effectiveRetry(&Step{Retry: &RetryPolicy{MaxAttempts: 7, Backoff: BackoffFixed}})
	require.Equal(t, 7, p.MaxAttempts)

	// Attempt floors at one.
	p = e.effectiveRetry(&Step{Retry: &RetryPolicy{MaxAttempts: 0}})
	require.Equal(t, 1, p.MaxAttempts)
}
