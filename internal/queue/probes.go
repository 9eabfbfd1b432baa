package queue

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSnapshot is one reading of the process footprint.
type ResourceSnapshot struct {
	MemoryMB   uint64
	CPUPercent float64
	TakenAt    time.Time
}

// ResourceProbe samples process memory and CPU through gopsutil with a short
// cache so admission checks stay cheap under load.
type ResourceProbe struct {
	mu       sync.Mutex
	proc     *process.Process
	cacheFor time.Duration
	last     ResourceSnapshot
	now      func() time.Time
}

// NewResourceProbe constructs a probe for the current process.
func NewResourceProbe() *ResourceProbe {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		p = nil
	}
	return &ResourceProbe{proc: p, cacheFor: 2 * time.Second, now: time.Now}
}

// Snapshot returns the cached reading, refreshing it when stale. A probe
// that cannot read the process reports zeros so admission never blocks on
// missing telemetry.
func (r *ResourceProbe) Snapshot() ResourceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.last.TakenAt) < r.cacheFor {
		return r.last
	}
	snap := ResourceSnapshot{TakenAt: now}
	if r.proc != nil {
		if mi, err := r.proc.MemoryInfo(); err == nil && mi != nil {
			snap.MemoryMB = mi.RSS / (1024 * 1024)
		}
		if cpu, err := r.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
	}
	r.last = snap
	return snap
}
