package logsink

import (
	"time"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/protocol"
)

// Handlers wraps another protocol.Handlers (the Dispatcher) and
// intercepts log_entry/log_batch, routing them to the Sink instead of
// leaving them as the Dispatcher's no-ops. Every other message type
// passes through unchanged.
type Handlers struct {
	protocol.Handlers
	Sink *Sink
}

func (h Handlers) OnLogEntry(robotID string, payload protocol.LogEntryPayload) {
	h.Sink.Submit(domain.LogBatch{RobotID: robotID, Entries: []domain.LogEntry{{
		JobID:     payload.JobID,
		RobotID:   robotID,
		Level:     domain.LogLevel(payload.Level),
		Message:   payload.Message,
		NodeID:    payload.NodeID,
		Timestamp: time.Unix(payload.Timestamp, 0).UTC(),
		Extra:     payload.Extra,
	}}})
}

func (h Handlers) OnLogBatch(robotID string, payload protocol.LogBatchPayload) {
	entries := make([]domain.LogEntry, 0, len(payload.Entries))
	for _, p := range payload.Entries {
		entries = append(entries, domain.LogEntry{
			JobID:     p.JobID,
			RobotID:   robotID,
			Level:     domain.LogLevel(p.Level),
			Message:   p.Message,
			NodeID:    p.NodeID,
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Extra:     p.Extra,
		})
	}
	h.Sink.Submit(domain.LogBatch{RobotID: robotID, Entries: entries})
}
