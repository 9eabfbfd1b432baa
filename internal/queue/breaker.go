package queue

import (
	"sync"
	"time"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
)

// Breaker is a sliding-window circuit breaker for the worker pool. It opens
// after threshold failures inside the window and stays open for the recovery
// period; workers pause while it is open.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	recovery  time.Duration
	failures  []time.Time
	openedAt  time.Time
	open      bool
	now       func() time.Time
}

// NewBreaker constructs a breaker with the given failure threshold, sliding
// window and recovery period.
func NewBreaker(threshold int, window, recovery time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		window:    window,
		recovery:  recovery,
		now:       time.Now,
	}
}

// Failure records one job failure, opening the breaker when the windowed
// count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.failures = append(b.failures, now)
	b.prune(now)
	if !b.open && len(b.failures) >= b.threshold {
		b.open = true
		b.openedAt = now
		observability.QueueBreakerOpen.Set(1)
	}
}

// Success is a no-op for counting; the window prunes failures by age. It
// exists so callers report both outcomes symmetrically.
func (b *Breaker) Success() {}

// Open reports whether workers must pause. The breaker closes itself after
// the recovery period elapses.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	if b.now().Sub(b.openedAt) >= b.recovery {
		b.reset()
		return false
	}
	return true
}

// Reset closes the breaker and clears the failure window (operator action).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Breaker) reset() {
	b.open = false
	b.failures = b.failures[:0]
	observability.QueueBreakerOpen.Set(0)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
}

// FailureCount returns the current windowed failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.failures)
}
