// Package logsink ingests robot-originated LogEntry/LogBatch messages
// (spec.md §3, §4.9, §5) through a bounded channel: the dispatcher and
// protocol server must never block on log ingestion, so overflow drops
// the oldest batch and increments a counter rather than applying
// backpressure upstream. (The protocol package's per-connection send
// queue differs: when full it refuses the new frame.)
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// DefaultBufferSize matches spec.md §6.4's log_buffer_size default.
const DefaultBufferSize = 1000

// Sink buffers inbound LogBatches and retains accepted entries for a
// bounded window (default 30 days per spec.md §3), evicted on ingest
// rather than by a background sweep.
type Sink struct {
	ch       chan domain.LogBatch
	dropped  atomic.Int64
	retained time.Duration

	mu      sync.Mutex
	entries []domain.LogEntry
	logger  *slog.Logger

	droppedCounter prometheus.Counter
}

// SetDroppedCounter wires a Prometheus counter (metrics.Registry's
// LogsDroppedTotal) to be incremented alongside the internal atomic
// counter. Optional: unset, Submit only tracks Dropped() internally.
func (s *Sink) SetDroppedCounter(c prometheus.Counter) {
	s.droppedCounter = c
}

// New constructs a Sink with the given channel capacity and retention
// window. A zero retention disables eviction (kept only for the
// in-process lifetime).
func New(bufferSize int, retained time.Duration, logger *slog.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Sink{
		ch:       make(chan domain.LogBatch, bufferSize),
		retained: retained,
		logger:   logger.With("component", "logsink"),
	}
}

// Submit enqueues batch for asynchronous ingestion. It never blocks: if
// the channel is full, the oldest pending batch is dropped to make room
// and logs_dropped is incremented.
func (s *Sink) Submit(batch domain.LogBatch) {
	for {
		select {
		case s.ch <- batch:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			if s.droppedCounter != nil {
				s.droppedCounter.Inc()
			}
		default:
			return
		}
	}
}

// Dropped returns the cumulative logs_dropped counter.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Run drains submitted batches into the retained window until ctx is
// cancelled. This is the sink's single consumer goroutine.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.ch:
			s.absorb(batch)
		}
	}
}

func (s *Sink) absorb(batch domain.LogBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, batch.Entries...)
	if s.retained <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retained)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Query returns a copy of retained entries matching jobID (empty matches
// all), for an operator UI's log viewer.
func (s *Sink) Query(jobID string) []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}
