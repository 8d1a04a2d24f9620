package logsink

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/casarerpa/orchestrator/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitDropsOldestWhenFull(t *testing.T) {
	s := New(2, 0, discardLogger())

	s.Submit(domain.LogBatch{RobotID: "r1"})
	s.Submit(domain.LogBatch{RobotID: "r2"})
	s.Submit(domain.LogBatch{RobotID: "r3"}) // forces a drop

	assert.Equal(t, int64(1), s.Dropped())
}

func TestQueryFiltersByJobID(t *testing.T) {
	s := New(10, 0, discardLogger())
	s.absorb(domain.LogBatch{Entries: []domain.LogEntry{
		{JobID: "j1", Message: "a", Timestamp: time.Now()},
		{JobID: "j2", Message: "b", Timestamp: time.Now()},
	}})

	assert.Len(t, s.Query("j1"), 1)
	assert.Len(t, s.Query(""), 2)
}

func TestAbsorbEvictsOutsideRetentionWindow(t *testing.T) {
	s := New(10, time.Minute, discardLogger())
	s.absorb(domain.LogBatch{Entries: []domain.LogEntry{
		{JobID: "old", Timestamp: time.Now().Add(-time.Hour)},
		{JobID: "fresh", Timestamp: time.Now()},
	}})

	got := s.Query("")
	assert.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].JobID)
}
