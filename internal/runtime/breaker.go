package runtime

import (
	"sync"
	"time"
)

// breaker is a small circuit breaker in front of the gateway: after
// failThreshold consecutive failures it rejects calls for openFor, then
// admits a single probe.
type breaker struct {
	mu            sync.Mutex
	fails         int
	failThreshold int
	openFor       time.Duration
	openUntil     time.Time
	probing       bool
}

func newBreaker(threshold int, openFor time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &breaker{failThreshold: threshold, openFor: openFor}
}

// allow reports whether a call may proceed right now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fails < b.failThreshold {
		return true
	}
	now := time.Now()
	if now.Before(b.openUntil) {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// record updates breaker state with a call outcome.
func (b *breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !failed {
		b.fails = 0
		return
	}
	b.fails++
	if b.fails >= b.failThreshold {
		b.openUntil = time.Now().Add(b.openFor)
	}
}
