package workflow

import (
	"math/rand"
	"time"
)

// effectiveRetry returns the step's retry policy with the engine default
// applied when the step declares none.
func (e *Engine) effectiveRetry(step *Step) RetryPolicy {
	p := e.opts.defaultRetry
	if step.Retry != nil {
		p = *step.Retry
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// backoffDelay computes the delay before the given attempt number (1-based;
// the delay precedes attempt+1). Exponential backoff doubles per attempt and
// jitter spreads the result by up to 50% to decorrelate retry storms.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	base := time.Duration(p.IntervalMillis) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}

	d := base
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > time.Hour {
				d = time.Hour
				break
			}
		}
	}

	if p.Jitter {
		d += time.Duration(rand.Int63n(int64(d)/2 + 1))
	}
	return d
}
