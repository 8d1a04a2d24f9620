// Package queue implements the priority-ordered, dedup-aware job queue:
// a container/heap-backed priority queue, leaning on the standard
// library's heap interface the same way prometheus/client_golang's
// internal work queues do.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// Clock abstracts "now" so scheduled-start gating is testable without
// real sleeps.
type Clock func() time.Time

type entry struct {
	job       *domain.Job
	seq       int64 // submission order, for stable FIFO within a priority bucket
	heapIndex int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority // higher priority first
	}
	at, bt := scheduledKey(a.job), scheduledKey(b.job)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.seq < b.seq
}

func scheduledKey(j *domain.Job) time.Time {
	if j.ScheduledStart != nil {
		return *j.ScheduledStart
	}
	return j.CreatedAt
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Queue is the dispatcher's job queue: a priority heap plus an
// idempotency-key index. Per-priority counts for metrics are computed on
// demand. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	heap  entryHeap
	byID  map[string]*entry
	byKey map[string]string // idempotency key -> job id, for non-terminal jobs only
	seq   int64
	clock Clock
}

// New constructs an empty Queue. clock defaults to time.Now if nil.
func New(clock Clock) *Queue {
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		byID:  make(map[string]*entry),
		byKey: make(map[string]string),
		clock: clock,
	}
}

// ErrDuplicateIdempotencyKey is returned by Enqueue when a non-terminal
// job already holds the same idempotency key.
var ErrDuplicateIdempotencyKey = fmt.Errorf("queue: duplicate idempotency key")

// Enqueue transitions job to Queued and adds it to the heap. Rejects if
// an identical, still-non-terminal idempotency key is already present.
func (q *Queue) Enqueue(job *domain.Job, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.IdempotencyKey != "" {
		if existingID, ok := q.byKey[job.IdempotencyKey]; ok && existingID != job.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, job.IdempotencyKey)
		}
	}
	if job.Status == domain.StatusPending {
		if err := job.Enqueue(now); err != nil {
			return err
		}
	}

	e := &entry{job: job, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, e)
	q.byID[job.ID] = e
	if job.IdempotencyKey != "" {
		q.byKey[job.IdempotencyKey] = job.ID
	}
	return nil
}

// Peek returns the head of the queue without removing it: the
// highest-priority job whose scheduled-start (if any) has arrived. It
// returns nil if the queue is empty or every job is still future-dated.
func (q *Queue) Peek() *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.peekReady(q.clock())
	if e == nil {
		return nil
	}
	return e.job
}

// peekReady must be called with q.mu held.
func (q *Queue) peekReady(now time.Time) *entry {
	best := -1
	for i, e := range q.heap {
		if e.job.ScheduledStart == nil || !e.job.ScheduledStart.After(now) {
			if best == -1 || q.heap.Less(i, best) {
				best = i
			}
		}
	}
	if best == -1 {
		return nil
	}
	return q.heap[best]
}

// Pop removes and returns the head of the queue per the same readiness
// rule as Peek. Returns nil if nothing is ready.
func (q *Queue) Pop() *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()

	// container/heap only guarantees heap[0] is the min; a future-dated
	// job at the root means we must scan for the first ready entry and
	// heap.Remove it directly rather than relying on heap.Pop.
	readyIdx := -1
	for i, e := range q.heap {
		if e.job.ScheduledStart == nil || !e.job.ScheduledStart.After(now) {
			if readyIdx == -1 || q.heap.Less(i, readyIdx) {
				readyIdx = i
			}
		}
	}
	if readyIdx == -1 {
		return nil
	}
	e := heap.Remove(&q.heap, readyIdx).(*entry)
	delete(q.byID, e.job.ID)
	if e.job.IdempotencyKey != "" {
		delete(q.byKey, e.job.IdempotencyKey)
	}
	return e.job
}

// Cancel removes jobID if it is still queued, transitioning it to
// Cancelled. It is a no-op (returns false, nil) if the job is not in the
// queue — already-dispatched jobs are the dispatcher's responsibility.
func (q *Queue) Cancel(jobID string, now time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[jobID]
	if !ok {
		return false, nil
	}
	if err := e.job.Cancel(now); err != nil {
		return false, err
	}
	heap.Remove(&q.heap, e.heapIndex)
	delete(q.byID, jobID)
	if e.job.IdempotencyKey != "" {
		delete(q.byKey, e.job.IdempotencyKey)
	}
	return true, nil
}

// Size returns the number of jobs currently held in the queue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// CountByPriority returns counts of queued jobs bucketed by priority, for
// metrics export.
func (q *Queue) CountByPriority() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[domain.Priority]int)
	for _, e := range q.heap {
		out[e.job.Priority]++
	}
	return out
}

// Requeue re-adds a job that was popped and needs to go back (reject,
// ack-timeout, robot-loss recovery). The caller is responsible for having
// already called Job.ResetToQueued.
func (q *Queue) Requeue(job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.Status != domain.StatusQueued {
		return fmt.Errorf("queue: cannot requeue job %s in status %s", job.ID, job.Status)
	}
	e := &entry{job: job, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, e)
	q.byID[job.ID] = e
	if job.IdempotencyKey != "" {
		q.byKey[job.IdempotencyKey] = job.ID
	}
	return nil
}
