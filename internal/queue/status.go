package queue

import (
	"sync"
	"time"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// statusEntry holds one job's lifecycle snapshot plus its expiry once the
// job reaches a terminal state.
type statusEntry struct {
	job       domain.Job
	expiresAt time.Time
}

// StatusMap is a TTL-bounded in-memory view of job state. Terminal entries
// expire after the configured TTL; live entries never expire.
type StatusMap struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*statusEntry
	now     func() time.Time
}

// NewStatusMap constructs a status map with the given terminal-state TTL.
func NewStatusMap(ttl time.Duration) *StatusMap {
	return &StatusMap{
		ttl:     ttl,
		entries: make(map[string]*statusEntry),
		now:     time.Now,
	}
}

// Set stores the current snapshot of a job. Terminal states start the TTL
// clock.
func (m *StatusMap) Set(job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &statusEntry{job: job}
	if terminal(job.Status) {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[job.ID] = e
}

// Get returns the job snapshot, or ErrNotFound for unknown/expired ids.
func (m *StatusMap) Get(id string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		return domain.Job{}, domain.ErrNotFound
	}
	return e.job, nil
}

// Sweep removes expired terminal entries and returns how many were removed.
func (m *StatusMap) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (m *StatusMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func terminal(s domain.JobStatus) bool {
	return s == domain.JobCompleted || s == domain.JobFailed || s == domain.JobCancelled
}
