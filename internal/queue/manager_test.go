package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/pipeline"
	"github.com/fairyhunter13/resume-matcher/internal/queue"
)

// runnerStub executes jobs with a scripted error sequence per application id.
type runnerStub struct {
	mu       sync.Mutex
	errs     map[string][]error // popped one per attempt; empty means success
	attempts map[string]int
	order    []string
	delay    time.Duration
}

func newRunnerStub() *runnerStub {
	return &runnerStub{errs: map[string][]error{}, attempts: map[string]int{}}
}

func (r *runnerStub) fail(appID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[appID] = errs
}

func (r *runnerStub) Run(ctx domain.Context, data domain.ApplicationData) (domain.IngestResult, error) {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.IngestResult{}, ctx.Err()
		case <-time.After(r.delay):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[data.ApplicationID]++
	r.order = append(r.order, data.ApplicationID)
	if q := r.errs[data.ApplicationID]; len(q) > 0 {
		err := q[0]
		r.errs[data.ApplicationID] = q[1:]
		if err != nil {
			return domain.IngestResult{}, err
		}
	}
	return domain.IngestResult{DocumentID: "doc-" + data.ApplicationID}, nil
}

func (r *runnerStub) attemptCount(appID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[appID]
}

func (r *runnerStub) executionOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type dlqStub struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (d *dlqStub) Publish(_ domain.Context, job domain.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *dlqStub) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func testOptions() queue.Options {
	return queue.Options{
		MinWorkers:       1,
		MaxWorkers:       4,
		HighWatermark:    100,
		LowWatermark:     1,
		ScaleInterval:    time.Hour, // no autoscaling during tests
		MaxRetries:       3,
		CircuitThreshold: 10,
		CircuitWindow:    time.Minute,
		CircuitRecovery:  time.Minute,
		StatusTTL:        10 * time.Minute,
	}
}

func submitApp(t *testing.T, m *queue.Manager, appID, hint string) domain.Job {
	t.Helper()
	j, err := m.Submit(context.Background(), domain.ApplicationData{
		ApplicationID: appID,
		JobToken:      "tok",
		PriorityHint:  hint,
	})
	require.NoError(t, err)
	return j
}

func waitStatus(t *testing.T, m *queue.Manager, id string, want domain.JobStatus) queue.JobView {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		v, err := m.Status(id)
		if err == nil && v.Job.Status == want {
			return v
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %s (last: %+v, err: %v)", id, want, v.Job.Status, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_CompletesJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	m := queue.NewManager(runner, nil, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "app-1", "")
	v := waitStatus(t, m, j.ID, domain.JobCompleted)
	require.NotNil(t, v.Job.Result)
	assert.Equal(t, "doc-app-1", v.Job.Result.DocumentID)
	assert.Equal(t, 0, v.Job.RetryCount)
}

func TestManager_PriorityOrderUnderPause(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	m := queue.NewManager(runner, nil, testOptions())
	m.Pause()
	m.Start(ctx)

	a := submitApp(t, m, "A", "")       // normal
	b := submitApp(t, m, "B", "urgent") // urgent
	c := submitApp(t, m, "C", "high")   // high
	m.Resume()

	waitStatus(t, m, a.ID, domain.JobCompleted)
	waitStatus(t, m, b.ID, domain.JobCompleted)
	waitStatus(t, m, c.ID, domain.JobCompleted)
	assert.Equal(t, []string{"B", "C", "A"}, runner.executionOrder())
}

func TestManager_RetryDemotesToLow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	runner.fail("flaky", errors.New("upstream hiccup")) // fail once, then succeed
	m := queue.NewManager(runner, nil, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "flaky", "urgent")
	v := waitStatus(t, m, j.ID, domain.JobCompleted)
	assert.Equal(t, 1, v.Job.RetryCount)
	assert.Equal(t, domain.PriorityLow, v.Job.Priority)
	assert.Equal(t, 2, runner.attemptCount("flaky"))
}

func TestManager_ExhaustedRetriesDeadLetter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("always broken")
	runner := newRunnerStub()
	runner.fail("doomed", boom, boom, boom, boom, boom)
	dlq := &dlqStub{}
	m := queue.NewManager(runner, dlq, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "doomed", "")
	v := waitStatus(t, m, j.ID, domain.JobFailed)

	// 1 initial attempt + 3 retries.
	assert.Equal(t, 4, runner.attemptCount("doomed"))
	assert.Equal(t, 3, v.Job.RetryCount)
	assert.Equal(t, 1, dlq.count())
}

func TestManager_InvalidInputFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	runner.fail("bad", &pipeline.StepError{Step: pipeline.StepResolve, Err: domain.ErrInvalidInput})
	dlq := &dlqStub{}
	m := queue.NewManager(runner, dlq, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "bad", "")
	v := waitStatus(t, m, j.ID, domain.JobFailed)
	assert.Equal(t, 1, runner.attemptCount("bad"))
	assert.Equal(t, 0, v.Job.RetryCount)
	assert.Equal(t, pipeline.StepResolve, v.Job.FailedStep)
	assert.Equal(t, 1, dlq.count())
}

func TestManager_AdmissionRejectsAtTwiceHighWatermark(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.HighWatermark = 1
	runner := newRunnerStub()
	m := queue.NewManager(runner, nil, opts)
	// Not started: no workers drain the queue.

	_, err := m.Submit(context.Background(), domain.ApplicationData{ApplicationID: "1"})
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), domain.ApplicationData{ApplicationID: "2"})
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), domain.ApplicationData{ApplicationID: "3"})
	assert.ErrorIs(t, err, domain.ErrOverloaded)
}

func TestManager_BreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions()
	opts.CircuitThreshold = 2
	opts.CircuitRecovery = 150 * time.Millisecond
	opts.MaxRetries = 3

	boom := errors.New("downstream outage")
	runner := newRunnerStub()
	// Two distinct jobs each fail once, tripping the 2-failure threshold;
	// their retries succeed after the breaker recovers.
	runner.fail("j1", boom)
	runner.fail("j2", boom)
	m := queue.NewManager(runner, nil, opts)
	m.Start(ctx)

	j1 := submitApp(t, m, "j1", "")
	j2 := submitApp(t, m, "j2", "")

	// Breaker opens after both failures land.
	require.Eventually(t, func() bool { return m.Stats().BreakerOpen }, 3*time.Second, 10*time.Millisecond)

	// After the recovery period the retries complete.
	waitStatus(t, m, j1.ID, domain.JobCompleted)
	waitStatus(t, m, j2.ID, domain.JobCompleted)
	assert.False(t, m.Stats().BreakerOpen)
}

func TestManager_ManualScale(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions()
	opts.MinWorkers = 2
	opts.MaxWorkers = 5
	m := queue.NewManager(newRunnerStub(), nil, opts)
	m.Start(ctx)

	assert.Equal(t, 5, m.ScaleUp(10))
	assert.Equal(t, 2, m.ScaleDown(10))
}

func TestManager_ShutdownDrains(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	runner.delay = 5 * time.Millisecond
	m := queue.NewManager(runner, nil, testOptions())
	m.Start(ctx)

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, submitApp(t, m, fmt.Sprintf("app-%d", i), "").ID)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))

	for _, id := range ids {
		v, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCompleted, v.Job.Status)
	}

	// Intake is closed after shutdown.
	_, err := m.Submit(context.Background(), domain.ApplicationData{ApplicationID: "late"})
	assert.ErrorIs(t, err, domain.ErrOverloaded)
}

func TestManager_ShutdownWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	runner.delay = 400 * time.Millisecond
	m := queue.NewManager(runner, nil, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "slow", "")
	waitStatus(t, m, j.ID, domain.JobProcessing)

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))

	v, err := m.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, v.Job.Status)
	assert.Equal(t, 0, v.Job.RetryCount)
}

func TestManager_ShutdownDeadlineInterruptsWithoutRequeue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newRunnerStub()
	runner.delay = 2 * time.Second
	m := queue.NewManager(runner, nil, testOptions())
	m.Start(ctx)

	j := submitApp(t, m, "stuck", "")
	waitStatus(t, m, j.ID, domain.JobProcessing)

	shCtx, shCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer shCancel()
	require.Error(t, m.Shutdown(shCtx))

	// The interrupted job lands in a terminal state instead of being
	// re-queued into a pool that no longer exists.
	v := waitStatus(t, m, j.ID, domain.JobFailed)
	assert.Equal(t, 0, v.Job.RetryCount)
}

type postingStub struct{ urgent bool }

func (p postingStub) ResolvePosting(_ domain.Context, token string) (domain.JobPosting, error) {
	return domain.JobPosting{ID: "p1", PublicToken: token, Accepting: true, Urgent: p.urgent}, nil
}

func TestManager_UrgentPostingRaisesPriority(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(newRunnerStub(), nil, testOptions())
	m.SetPostingDirectory(postingStub{urgent: true})
	// Not started: jobs stay queued for inspection.

	j := submitApp(t, m, "u1", "")
	assert.Equal(t, domain.PriorityHigh, j.Priority)

	// An explicit urgent hint is never lowered by the posting lookup.
	j2 := submitApp(t, m, "u2", "urgent")
	assert.Equal(t, domain.PriorityUrgent, j2.Priority)

	plain := queue.NewManager(newRunnerStub(), nil, testOptions())
	plain.SetPostingDirectory(postingStub{urgent: false})
	j3 := submitApp(t, plain, "u3", "")
	assert.Equal(t, domain.PriorityNormal, j3.Priority)
}

func TestManager_StatusUnknownJob(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(newRunnerStub(), nil, testOptions())
	_, err := m.Status("no-such-job")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_QueuedStatusHasPositionAndETA(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(newRunnerStub(), nil, testOptions())
	// Not started: jobs stay queued.
	j1 := submitApp(t, m, "q1", "")
	j2 := submitApp(t, m, "q2", "")

	v1, err := m.Status(j1.ID)
	require.NoError(t, err)
	v2, err := m.Status(j2.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, v1.Position)
	assert.Equal(t, 1, v2.Position)
	assert.Greater(t, v2.ETA, v1.ETA)
}
