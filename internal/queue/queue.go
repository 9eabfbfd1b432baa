// Package queue implements the in-process priority job queue: admission
// control, a bounded auto-scaled worker pool, retry with priority demotion,
// a sliding-window circuit breaker and TTL-bounded status tracking.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// priorityQueue holds four FIFO lanes. Every pop scans from Urgent down so
// priority is strict per pop while lower lanes still drain when higher ones
// are empty.
type priorityQueue struct {
	mu     sync.Mutex
	lanes  [4][]domain.Job
	notify chan struct{}
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{notify: make(chan struct{}, 1)}
}

// push appends the job to its priority lane.
func (q *priorityQueue) push(job domain.Job) {
	q.mu.Lock()
	q.lanes[laneIndex(job.Priority)] = append(q.lanes[laneIndex(job.Priority)], job)
	q.mu.Unlock()
	observability.QueueDepth.WithLabelValues(job.Priority.String()).Inc()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryPop removes the oldest job from the highest non-empty lane.
func (q *priorityQueue) tryPop() (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for lane := len(q.lanes) - 1; lane >= 0; lane-- {
		if len(q.lanes[lane]) == 0 {
			continue
		}
		job := q.lanes[lane][0]
		q.lanes[lane] = q.lanes[lane][1:]
		observability.QueueDepth.WithLabelValues(job.Priority.String()).Dec()
		return job, true
	}
	return domain.Job{}, false
}

// pop blocks until a job is available or the context ends.
func (q *priorityQueue) pop(ctx context.Context) (domain.Job, bool) {
	for {
		if job, ok := q.tryPop(); ok {
			return job, true
		}
		select {
		case <-ctx.Done():
			return domain.Job{}, false
		case <-q.notify:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// depth returns the total number of queued jobs.
func (q *priorityQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// position returns how many jobs are ahead of the given id, or -1 when the
// id is not queued.
func (q *priorityQueue) position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	ahead := 0
	for lane := len(q.lanes) - 1; lane >= 0; lane-- {
		for _, job := range q.lanes[lane] {
			if job.ID == id {
				return ahead
			}
			ahead++
		}
	}
	return -1
}

// laneIndex maps a priority to its lane; lane 3 is Urgent.
func laneIndex(p domain.Priority) int {
	if p < domain.PriorityLow {
		return int(domain.PriorityLow)
	}
	if p > domain.PriorityUrgent {
		return int(domain.PriorityUrgent)
	}
	return int(p)
}
