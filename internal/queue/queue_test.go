package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/domain"
)

func newJob(id string, priority domain.Priority, idemKey string) *domain.Job {
	return domain.NewJob(id, "wf1", nil, priority, idemKey, time.Now())
}

func TestEnqueuePopOrdersByPriorityThenFIFO(t *testing.T) {
	q := New(nil)
	now := time.Now()

	low := newJob("low", domain.PriorityLow, "")
	high := newJob("high", domain.PriorityHigh, "")
	normal1 := newJob("normal1", domain.PriorityNormal, "")
	normal2 := newJob("normal2", domain.PriorityNormal, "")

	require.NoError(t, q.Enqueue(low, now))
	require.NoError(t, q.Enqueue(high, now))
	require.NoError(t, q.Enqueue(normal1, now))
	require.NoError(t, q.Enqueue(normal2, now))

	assert.Equal(t, "high", q.Pop().ID)
	assert.Equal(t, "normal1", q.Pop().ID, "FIFO within same priority bucket")
	assert.Equal(t, "normal2", q.Pop().ID)
	assert.Equal(t, "low", q.Pop().ID)
	assert.Nil(t, q.Pop())
}

func TestEnqueueRejectsDuplicateNonTerminalIdempotencyKey(t *testing.T) {
	q := New(nil)
	now := time.Now()
	j1 := newJob("j1", domain.PriorityNormal, "idem-1")
	j2 := newJob("j2", domain.PriorityNormal, "idem-1")

	require.NoError(t, q.Enqueue(j1, now))
	err := q.Enqueue(j2, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestScheduledStartHeldBackFromPop(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clockVal := t0
	q := New(func() time.Time { return clockVal })

	future := newJob("future", domain.PriorityCritical, "")
	futureStart := t0.Add(time.Hour)
	future.ScheduledStart = &futureStart

	ready := newJob("ready", domain.PriorityLow, "")

	require.NoError(t, q.Enqueue(future, t0))
	require.NoError(t, q.Enqueue(ready, t0))

	assert.Equal(t, "ready", q.Pop().ID, "future-scheduled critical job must not pop before its time")

	clockVal = t0.Add(2 * time.Hour)
	assert.Equal(t, "future", q.Pop().ID)
}

func TestCancelRemovesQueuedJob(t *testing.T) {
	q := New(nil)
	now := time.Now()
	j1 := newJob("j1", domain.PriorityNormal, "")
	require.NoError(t, q.Enqueue(j1, now))

	ok, err := q.Cancel("j1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, j1.Status)
	assert.Equal(t, 0, q.Size())
}

func TestCancelNoOpForUnknownJob(t *testing.T) {
	q := New(nil)
	ok, err := q.Cancel("ghost", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSizeAndCountByPriority(t *testing.T) {
	q := New(nil)
	now := time.Now()
	require.NoError(t, q.Enqueue(newJob("a", domain.PriorityHigh, ""), now))
	require.NoError(t, q.Enqueue(newJob("b", domain.PriorityHigh, ""), now))
	require.NoError(t, q.Enqueue(newJob("c", domain.PriorityLow, ""), now))

	assert.Equal(t, 3, q.Size())
	counts := q.CountByPriority()
	assert.Equal(t, 2, counts[domain.PriorityHigh])
	assert.Equal(t, 1, counts[domain.PriorityLow])
}
