package queue

import (
	"sync"
	"time"
)

// ewmaAlpha weights the most recent observation.
const ewmaAlpha = 0.1

// Estimator tracks an exponentially weighted moving average of job
// processing time for wait estimates.
type Estimator struct {
	mu      sync.Mutex
	avg     time.Duration
	samples int
}

// NewEstimator returns an estimator seeded with a starting guess used until
// the first real observation arrives.
func NewEstimator(seed time.Duration) *Estimator {
	return &Estimator{avg: seed}
}

// Observe folds one processing duration into the average.
func (e *Estimator) Observe(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		e.avg = d
	} else {
		e.avg = time.Duration(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(e.avg))
	}
	e.samples++
}

// Average returns the current moving average.
func (e *Estimator) Average() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avg
}

// ETA estimates the wait for a job at the given queue position with the
// given worker count.
func (e *Estimator) ETA(position, workers int) time.Duration {
	if workers < 1 {
		workers = 1
	}
	if position < 0 {
		position = 0
	}
	return time.Duration(float64(position+1) / float64(workers) * float64(e.Average()))
}
