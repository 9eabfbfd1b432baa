package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/pipeline"
)

// Runner executes one application job. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx domain.Context, data domain.ApplicationData) (domain.IngestResult, error)
}

// PostingDirectory resolves a posting token to its metadata. The manager
// uses it at submit time to honor urgency tags on the posting itself.
// Satisfied by *postgres.MetadataRepo.
type PostingDirectory interface {
	ResolvePosting(ctx domain.Context, publicToken string) (domain.JobPosting, error)
}

// Options are the queue tunables; zero values fall back to safe defaults.
type Options struct {
	MinWorkers       int
	MaxWorkers       int
	HighWatermark    int
	LowWatermark     int
	ScaleInterval    time.Duration
	MaxRetries       int
	CircuitThreshold int
	CircuitWindow    time.Duration
	CircuitRecovery  time.Duration
	MemoryLimitMB    uint64
	CPULimitPercent  float64
	StatusTTL        time.Duration
	// ScaleHeadroom is the memory/CPU fraction of the limits above which the
	// autoscaler refuses to add workers.
	ScaleHeadroom float64
}

func (o Options) withDefaults() Options {
	if o.MinWorkers <= 0 {
		o.MinWorkers = 2
	}
	if o.MaxWorkers < o.MinWorkers {
		o.MaxWorkers = 50
	}
	if o.HighWatermark <= 0 {
		o.HighWatermark = 1000
	}
	if o.LowWatermark <= 0 {
		o.LowWatermark = 10
	}
	if o.ScaleInterval <= 0 {
		o.ScaleInterval = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.CircuitThreshold <= 0 {
		o.CircuitThreshold = 10
	}
	if o.CircuitWindow <= 0 {
		o.CircuitWindow = 5 * time.Minute
	}
	if o.CircuitRecovery <= 0 {
		o.CircuitRecovery = 5 * time.Minute
	}
	if o.StatusTTL < 10*time.Minute {
		o.StatusTTL = 10 * time.Minute
	}
	if o.ScaleHeadroom <= 0 || o.ScaleHeadroom >= 1 {
		o.ScaleHeadroom = 0.8
	}
	return o
}

// JobView is a status snapshot returned to clients: the job plus queue
// position and estimated wait for queued jobs.
type JobView struct {
	Job      domain.Job
	Position int
	ETA      time.Duration
}

// Stats is the operator-facing snapshot of the queue.
type Stats struct {
	Workers        int              `json:"workers"`
	Depth          int              `json:"depth"`
	DepthByLane    map[string]int   `json:"depth_by_priority"`
	Paused         bool             `json:"paused"`
	BreakerOpen    bool             `json:"breaker_open"`
	WindowFailures int              `json:"window_failures"`
	AvgProcessing  time.Duration    `json:"avg_processing_ns"`
	TrackedJobs    int              `json:"tracked_jobs"`
	Resources      ResourceSnapshot `json:"resources"`
}

// Manager owns the queue, the worker pool and all its guards.
type Manager struct {
	opts      Options
	runner    Runner
	q         *priorityQueue
	status    *StatusMap
	breaker   *Breaker
	estimator *Estimator
	probe     *ResourceProbe
	dlq       domain.DeadLetter
	postings  PostingDirectory

	mu       sync.Mutex
	workers  []context.CancelFunc
	paused   bool
	draining bool

	// baseCtx covers job execution; popCtx covers only waiting for work.
	// Shutdown cancels popCtx first so workers finish the job in hand.
	baseCtx   context.Context
	cancel    context.CancelFunc
	popCtx    context.Context
	popCancel context.CancelFunc
	wg        sync.WaitGroup
	entropy *ulid.MonotonicEntropy
	idMu    sync.Mutex
}

// NewManager constructs the queue manager. dlq may be nil.
func NewManager(runner Runner, dlq domain.DeadLetter, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:      opts,
		runner:    runner,
		q:         newPriorityQueue(),
		status:    NewStatusMap(opts.StatusTTL),
		breaker:   NewBreaker(opts.CircuitThreshold, opts.CircuitWindow, opts.CircuitRecovery),
		estimator: NewEstimator(5 * time.Second),
		probe:     NewResourceProbe(),
		dlq:       dlq,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// SetPostingDirectory wires the optional posting lookup used to honor
// urgency tags at submit time. Call before Start.
func (m *Manager) SetPostingDirectory(d PostingDirectory) {
	m.postings = d
}

// Start launches the minimum worker set, the autoscaler and the status
// sweeper. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	m.popCtx, m.popCancel = context.WithCancel(m.baseCtx)
	m.mu.Lock()
	for i := 0; i < m.opts.MinWorkers; i++ {
		m.spawnLocked()
	}
	m.mu.Unlock()

	m.wg.Add(2)
	go m.scaleLoop()
	go m.sweepLoop()
}

// Submit admits one job or rejects it with ErrOverloaded. Admission is the
// single backpressure point for ingestion.
func (m *Manager) Submit(ctx domain.Context, data domain.ApplicationData) (domain.Job, error) {
	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining {
		return domain.Job{}, fmt.Errorf("op=queue.Submit: shutting down: %w", domain.ErrOverloaded)
	}

	if depth := m.q.depth(); depth >= 2*m.opts.HighWatermark {
		return domain.Job{}, fmt.Errorf("op=queue.Submit: depth %d: %w", depth, domain.ErrOverloaded)
	}
	snap := m.probe.Snapshot()
	if snap.MemoryMB > m.opts.MemoryLimitMB && m.opts.MemoryLimitMB > 0 {
		return domain.Job{}, fmt.Errorf("op=queue.Submit: memory %dMB over limit: %w", snap.MemoryMB, domain.ErrOverloaded)
	}
	if m.opts.CPULimitPercent > 0 && snap.CPUPercent > m.opts.CPULimitPercent {
		return domain.Job{}, fmt.Errorf("op=queue.Submit: cpu %.1f%% over limit: %w", snap.CPUPercent, domain.ErrOverloaded)
	}

	prio := domain.ParsePriority(data.PriorityHint)
	// Postings tagged urgent raise the hint; a resolution failure here is
	// non-fatal since the pipeline resolves the token again.
	if m.postings != nil && prio < domain.PriorityHigh && data.JobToken != "" {
		if posting, err := m.postings.ResolvePosting(ctx, data.JobToken); err == nil && posting.Urgent {
			prio = domain.PriorityHigh
		}
	}

	job := domain.Job{
		ID:         m.newJobID(),
		Data:       data,
		Priority:   prio,
		Status:     domain.JobQueued,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: m.opts.MaxRetries,
	}
	m.status.Set(job)
	m.q.push(job)
	observability.JobsSubmittedTotal.WithLabelValues(job.Priority.String()).Inc()

	observability.LoggerFromContext(ctx).Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("priority", job.Priority.String()),
		slog.Int("depth", m.q.depth()))
	return job, nil
}

// Status returns the lifecycle view of one job.
func (m *Manager) Status(id string) (JobView, error) {
	job, err := m.status.Get(id)
	if err != nil {
		return JobView{}, err
	}
	view := JobView{Job: job, Position: -1}
	if job.Status == domain.JobQueued {
		view.Position = m.q.position(id)
		view.ETA = m.estimator.ETA(view.Position, m.workerCount())
	}
	return view, nil
}

// Stats returns the operator snapshot.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	paused := m.paused
	workers := len(m.workers)
	m.mu.Unlock()

	byLane := make(map[string]int, 4)
	m.q.mu.Lock()
	for i, lane := range m.q.lanes {
		byLane[domain.Priority(i).String()] = len(lane)
	}
	m.q.mu.Unlock()

	return Stats{
		Workers:        workers,
		Depth:          m.q.depth(),
		DepthByLane:    byLane,
		Paused:         paused,
		BreakerOpen:    m.breaker.Open(),
		WindowFailures: m.breaker.FailureCount(),
		AvgProcessing:  m.estimator.Average(),
		TrackedJobs:    m.status.Len(),
		Resources:      m.probe.Snapshot(),
	}
}

// Pause stops workers from picking up new jobs; in-flight jobs finish.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume reverses Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// ResetBreaker closes the circuit breaker (operator action).
func (m *Manager) ResetBreaker() { m.breaker.Reset() }

// ScaleUp adds n workers up to the maximum; returns the new count.
func (m *Manager) ScaleUp(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n && len(m.workers) < m.opts.MaxWorkers; i++ {
		m.spawnLocked()
	}
	return len(m.workers)
}

// ScaleDown removes n workers down to the minimum; returns the new count.
func (m *Manager) ScaleDown(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n && len(m.workers) > m.opts.MinWorkers; i++ {
		last := len(m.workers) - 1
		m.workers[last]()
		m.workers = m.workers[:last]
	}
	observability.ActiveWorkers.Set(float64(len(m.workers)))
	return len(m.workers)
}

// Shutdown drains the queue: intake closes immediately, queued jobs are
// given until ctx expires to drain, and workers always finish the job in
// hand before exiting. Only past the deadline is job execution cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	drained := true
	for m.q.depth() > 0 {
		select {
		case <-ctx.Done():
			drained = false
		case <-time.After(50 * time.Millisecond):
			continue
		}
		break
	}

	// Stop handing out work; in-flight jobs keep running on baseCtx.
	m.popCancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("op=queue.Shutdown: workers did not stop: %w", ctx.Err())
	}
	m.cancel()
	if waitErr != nil {
		return waitErr
	}
	if !drained {
		return fmt.Errorf("op=queue.Shutdown: %d jobs left queued: %w", m.q.depth(), context.DeadlineExceeded)
	}
	return nil
}

func (m *Manager) workerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// spawnLocked starts one worker; caller holds m.mu. The worker's context
// covers only idle waiting, so cancelling it (scale-down, drain) lets the
// job in hand run to completion on baseCtx.
func (m *Manager) spawnLocked() {
	wctx, cancel := context.WithCancel(m.popCtx)
	m.workers = append(m.workers, cancel)
	observability.ActiveWorkers.Set(float64(len(m.workers)))
	m.wg.Add(1)
	go m.worker(wctx)
}

func (m *Manager) worker(popCtx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-popCtx.Done():
			return
		default:
		}

		m.mu.Lock()
		paused := m.paused
		m.mu.Unlock()
		if paused || m.breaker.Open() {
			select {
			case <-popCtx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		job, ok := m.q.pop(popCtx)
		if !ok {
			return
		}
		m.execute(m.baseCtx, job)
	}
}

func (m *Manager) execute(ctx context.Context, job domain.Job) {
	now := time.Now().UTC()
	job.Status = domain.JobProcessing
	job.StartedAt = &now
	m.status.Set(job)

	res, err := m.runner.Run(ctx, job.Data)
	dur := time.Since(now)
	observability.JobProcessingSeconds.Observe(dur.Seconds())

	if err == nil {
		m.estimator.Observe(dur)
		m.breaker.Success()
		done := time.Now().UTC()
		job.Status = domain.JobCompleted
		job.CompletedAt = &done
		job.Result = &res
		m.status.Set(job)
		observability.JobsCompletedTotal.WithLabelValues("success").Inc()
		m.removeUpload(job)
		return
	}

	job.Error = err.Error()
	job.FailedStep = pipeline.FailedStep(err)

	// A cancelled execution context means the process was force-stopped past
	// the drain deadline: the failure is neither the job's nor the
	// pipeline's, so it must not trip the breaker or be re-queued into a
	// pool that no longer exists.
	if ctx.Err() != nil {
		done := time.Now().UTC()
		job.Status = domain.JobFailed
		job.CompletedAt = &done
		m.status.Set(job)
		observability.JobsCompletedTotal.WithLabelValues("interrupted").Inc()
		slog.Warn("job interrupted by shutdown",
			slog.String("job_id", job.ID),
			slog.String("failed_step", job.FailedStep))
		return
	}

	// Client-side input problems never trip the breaker and never retry.
	permanent := errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrEmptyInput)
	if !permanent {
		m.breaker.Failure()
	}

	if !permanent && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Priority = domain.PriorityLow
		job.Status = domain.JobQueued
		job.StartedAt = nil
		m.status.Set(job)
		m.q.push(job)
		observability.JobRetriesTotal.Inc()
		slog.Warn("job retry scheduled",
			slog.String("job_id", job.ID),
			slog.Int("retry", job.RetryCount),
			slog.String("failed_step", job.FailedStep),
			slog.Any("error", err))
		return
	}

	done := time.Now().UTC()
	job.Status = domain.JobFailed
	job.CompletedAt = &done
	m.status.Set(job)
	observability.JobsCompletedTotal.WithLabelValues("failed").Inc()
	slog.Error("job failed permanently",
		slog.String("job_id", job.ID),
		slog.String("failed_step", job.FailedStep),
		slog.Int("retries", job.RetryCount),
		slog.Any("error", err))

	if m.dlq != nil {
		if derr := m.dlq.Publish(ctx, job); derr != nil {
			slog.Error("dead-letter publish failed", slog.String("job_id", job.ID), slog.Any("error", derr))
		}
	}
	m.removeUpload(job)
}

// removeUpload deletes the temp file once the job reaches a terminal state.
func (m *Manager) removeUpload(job domain.Job) {
	if job.Data.FilePath == "" {
		return
	}
	if err := os.Remove(job.Data.FilePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("upload cleanup failed", slog.String("path", job.Data.FilePath), slog.Any("error", err))
	}
}

func (m *Manager) scaleLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.ScaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.popCtx.Done():
			return
		case <-ticker.C:
			m.autoscale()
		}
	}
}

func (m *Manager) autoscale() {
	depth := m.q.depth()
	snap := m.probe.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.workers)

	memOK := m.opts.MemoryLimitMB == 0 || float64(snap.MemoryMB) < m.opts.ScaleHeadroom*float64(m.opts.MemoryLimitMB)
	cpuOK := m.opts.CPULimitPercent == 0 || snap.CPUPercent < m.opts.ScaleHeadroom*m.opts.CPULimitPercent

	switch {
	case depth > m.opts.HighWatermark && count < m.opts.MaxWorkers && memOK && cpuOK:
		add := min(5, m.opts.MaxWorkers-count)
		for i := 0; i < add; i++ {
			m.spawnLocked()
		}
		slog.Info("scaled up workers", slog.Int("added", add), slog.Int("workers", len(m.workers)), slog.Int("depth", depth))
	case depth < m.opts.LowWatermark && count > m.opts.MinWorkers && m.estimator.Average() < 30*time.Second:
		remove := min(2, count-m.opts.MinWorkers)
		for i := 0; i < remove; i++ {
			last := len(m.workers) - 1
			m.workers[last]()
			m.workers = m.workers[:last]
		}
		observability.ActiveWorkers.Set(float64(len(m.workers)))
		slog.Info("scaled down workers", slog.Int("removed", remove), slog.Int("workers", len(m.workers)), slog.Int("depth", depth))
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.popCtx.Done():
			return
		case <-ticker.C:
			if n := m.status.Sweep(); n > 0 {
				slog.Debug("status entries swept", slog.Int("removed", n))
			}
		}
	}
}

func (m *Manager) newJobID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}
