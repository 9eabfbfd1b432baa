package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowSpan is the sliding window length for hourly limits.
const windowSpan = time.Hour

// burstSpan is the short window the burst allowance applies to.
const burstSpan = time.Minute

// Tally is one reading of a client's request history.
type Tally struct {
	HourCount   int
	MinuteCount int
	// Oldest is the oldest timestamp still inside the hour window; zero when
	// the window is empty. It determines when capacity frees up.
	Oldest time.Time
}

// WindowStore keeps per-key request timestamps over the sliding hour. Keys
// combine client id and endpoint class.
type WindowStore interface {
	// Count returns the current tally without recording anything.
	Count(ctx context.Context, key string, now time.Time) (Tally, error)
	// Record appends one timestamp.
	Record(ctx context.Context, key string, now time.Time) error
	// Sweep drops keys whose windows are empty and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryWindow is the in-process WindowStore.
type MemoryWindow struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryWindow constructs an empty in-memory store.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{entries: make(map[string][]time.Time)}
}

// Count prunes expired timestamps lazily and tallies the rest.
func (m *MemoryWindow) Count(_ context.Context, key string, now time.Time) (Tally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.prune(key, now)
	t := Tally{HourCount: len(ts)}
	if len(ts) > 0 {
		t.Oldest = ts[0]
	}
	burstCutoff := now.Add(-burstSpan)
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Before(burstCutoff) {
			break
		}
		t.MinuteCount++
	}
	return t, nil
}

// Record appends a timestamp for the key.
func (m *MemoryWindow) Record(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append(m.entries[key], now)
	return nil
}

// Sweep removes keys with fully expired windows.
func (m *MemoryWindow) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.entries {
		if len(m.prune(key, now)) == 0 {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// prune drops timestamps older than the window; caller holds the lock.
func (m *MemoryWindow) prune(key string, now time.Time) []time.Time {
	ts := m.entries[key]
	cutoff := now.Add(-windowSpan)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = ts[i:]
		m.entries[key] = ts
	}
	return ts
}
