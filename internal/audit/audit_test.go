package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordPersistsEvent(t *testing.T) {
	repo := memory.NewAuditRepository()
	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(repo, discardLogger(), func() string { return "evt-1" }, func() time.Time { return fixedTime })

	r.Record(context.Background(), domain.AuditRobotPaused, "operator-1", "robot", "r1", "maintenance window")

	events, err := repo.ByTarget(context.Background(), "robot", "r1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, domain.AuditRobotPaused, events[0].Action)
	assert.Equal(t, "operator-1", events[0].Actor)
	assert.Equal(t, fixedTime, events[0].Timestamp)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	repo := memory.NewAuditRepository()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	r1 := New(repo, discardLogger(), func() string { return "evt-1" }, func() time.Time { return t1 })
	r1.Record(context.Background(), domain.AuditJobCancelled, "a", "job", "j1", "")
	r2 := New(repo, discardLogger(), func() string { return "evt-2" }, func() time.Time { return t2 })
	r2.Record(context.Background(), domain.AuditJobCancelled, "a", "job", "j2", "")

	recent, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "evt-2", recent[0].ID)
	assert.Equal(t, "evt-1", recent[1].ID)
}
