package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

func job(id string, p domain.Priority) domain.Job {
	return domain.Job{ID: id, Priority: p, Status: domain.JobQueued}
}

func TestPriorityQueue_StrictPriorityOrder(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	q.push(job("A", domain.PriorityNormal))
	q.push(job("B", domain.PriorityUrgent))
	q.push(job("C", domain.PriorityHigh))

	var order []string
	for {
		j, ok := q.tryPop()
		if !ok {
			break
		}
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"B", "C", "A"}, order)
}

func TestPriorityQueue_FIFOWithinLane(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	q.push(job("first", domain.PriorityNormal))
	q.push(job("second", domain.PriorityNormal))
	q.push(job("third", domain.PriorityNormal))

	j, _ := q.tryPop()
	assert.Equal(t, "first", j.ID)
	j, _ = q.tryPop()
	assert.Equal(t, "second", j.ID)
}

func TestPriorityQueue_Position(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	q.push(job("n1", domain.PriorityNormal))
	q.push(job("u1", domain.PriorityUrgent))
	q.push(job("n2", domain.PriorityNormal))

	assert.Equal(t, 0, q.position("u1"))
	assert.Equal(t, 1, q.position("n1"))
	assert.Equal(t, 2, q.position("n2"))
	assert.Equal(t, -1, q.position("missing"))
}

func TestPriorityQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	done := make(chan domain.Job, 1)
	go func() {
		j, ok := q.pop(context.Background())
		if ok {
			done <- j
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(job("late", domain.PriorityLow))

	select {
	case j := <-done:
		assert.Equal(t, "late", j.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestPriorityQueue_PopHonoursContext(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, ok := q.pop(ctx)
	require.False(t, ok)
}
