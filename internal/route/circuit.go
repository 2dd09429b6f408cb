package route

import (
	"sync"
	"time"
)

// BreakerState is the state of one model's circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // healthy, requests flow
	BreakerOpen                         // tripped, requests skipped
	BreakerHalfOpen                     // probing, one request allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// breaker trips after consecutive failures and probes again after the
// cooldown. Success closes it, a failed probe reopens it.
type breaker struct {
	mu sync.Mutex

	state    BreakerState
	failures int
	openedAt time.Time

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

func newBreaker(failureThreshold int, cooldown time.Duration, now func() time.Time) *breaker {
	return &breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              now,
	}
}

// stateLocked transitions open breakers to half-open once the cooldown has
// elapsed. Callers must hold mu.
func (b *breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
	}
	return b.state
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != BreakerOpen
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.stateLocked() {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Health tracks one circuit breaker per model key.
type Health struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

func NewHealth(failureThreshold int, cooldown time.Duration) *Health {
	return &Health{
		breakers:         make(map[string]*breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

func (h *Health) get(key string) *breaker {
	h.mu.RLock()
	b, ok := h.breakers[key]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.breakers[key]; ok {
		return b
	}
	b = newBreaker(h.failureThreshold, h.cooldown, h.now)
	h.breakers[key] = b
	return b
}

// Available reports whether the model's breaker admits a request.
func (h *Health) Available(key string) bool { return h.get(key).allow() }

func (h *Health) RecordSuccess(key string) { h.get(key).recordSuccess() }

func (h *Health) RecordFailure(key string) { h.get(key).recordFailure() }

// State returns the breaker state for a model, closed if never seen.
func (h *Health) State(key string) BreakerState {
	b := h.get(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}
