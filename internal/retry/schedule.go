// Package retry computes the next-attempt schedule for failed deliveries.
// It is a pure function of the attempt count and an injected clock; the
// caller persists the decision.
package retry

import "time"

const maxDelay = 5 * time.Minute

// Options override the configured schedule knobs. Non-positive values fall
// back to the dispatch config defaults supplied by the caller.
type Options struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Decision is the outcome for a delivery whose attempt just failed.
// Terminal means the retry budget is exhausted and NextAttemptAt is nil.
type Decision struct {
	Terminal      bool
	NextAttemptAt *time.Time
}

// Schedule decides what happens after a failed attempt. attempts is 1-based
// and already incremented for the attempt that just failed.
//
//	delay = min(5m, base * 2^(attempts-1))
func Schedule(attempts int, now time.Time, opts Options) Decision {
	base := opts.BaseDelay
	if base <= 0 {
		base = 1000 * time.Millisecond
	}
	max := opts.MaxAttempts
	if max <= 0 {
		max = 6
	}

	if attempts >= max {
		return Decision{Terminal: true}
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	next := now.Add(delay)
	return Decision{NextAttemptAt: &next}
}
