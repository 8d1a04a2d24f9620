package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickFiresDueScheduleAndAdvancesNextRun(t *testing.T) {
	ctx := context.Background()
	schedules := memory.NewScheduleRepository()
	workflows := memory.NewWorkflowRepository()
	q := queue.New(nil)

	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished, Definition: []byte("{}")}
	require.NoError(t, workflows.Save(ctx, wf))

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	sched := &domain.Schedule{
		ID:              "s1",
		WorkflowID:      "wf1",
		Frequency:       domain.FrequencyHourly,
		Enabled:         true,
		NextRun:         &due,
		DefaultPriority: domain.PriorityNormal,
	}
	require.NoError(t, schedules.Save(ctx, sched))

	idCounter := 0
	s := New(schedules, workflows, q, discardLogger(), func() string {
		idCounter++
		return "job-1"
	})

	require.NoError(t, s.Tick(ctx, now))

	assert.Equal(t, 1, q.Size())
	popped := q.Pop()
	require.NotNil(t, popped)
	assert.Equal(t, "wf1", popped.WorkflowID)

	reloaded, err := schedules.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.RunCount)
	assert.Equal(t, 1, reloaded.SuccessCount)
	require.NotNil(t, reloaded.NextRun)
	assert.True(t, reloaded.NextRun.After(now))
}

func TestTickSkipsScheduleNotYetDue(t *testing.T) {
	ctx := context.Background()
	schedules := memory.NewScheduleRepository()
	workflows := memory.NewWorkflowRepository()
	q := queue.New(nil)

	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished}
	require.NoError(t, workflows.Save(ctx, wf))

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	sched := &domain.Schedule{ID: "s1", WorkflowID: "wf1", Enabled: true, NextRun: &future}
	require.NoError(t, schedules.Save(ctx, sched))

	s := New(schedules, workflows, q, discardLogger(), nil)
	require.NoError(t, s.Tick(ctx, now))
	assert.Equal(t, 0, q.Size())
}

func TestOnceScheduleSelfDisablesAfterFiring(t *testing.T) {
	ctx := context.Background()
	schedules := memory.NewScheduleRepository()
	workflows := memory.NewWorkflowRepository()
	q := queue.New(nil)

	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished}
	require.NoError(t, workflows.Save(ctx, wf))

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Second)
	sched := &domain.Schedule{ID: "s1", WorkflowID: "wf1", Frequency: domain.FrequencyOnce, Enabled: true, NextRun: &due}
	require.NoError(t, schedules.Save(ctx, sched))

	s := New(schedules, workflows, q, discardLogger(), nil)
	require.NoError(t, s.Tick(ctx, now))

	reloaded, err := schedules.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, reloaded.Enabled)
	assert.Nil(t, reloaded.NextRun)
}

func TestCatchUpFiresAtMostOnePerTick(t *testing.T) {
	ctx := context.Background()
	schedules := memory.NewScheduleRepository()
	workflows := memory.NewWorkflowRepository()
	q := queue.New(nil)

	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished}
	require.NoError(t, workflows.Save(ctx, wf))

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	longOverdue := now.Add(-48 * time.Hour)
	sched := &domain.Schedule{ID: "s1", WorkflowID: "wf1", Frequency: domain.FrequencyHourly, Enabled: true, NextRun: &longOverdue}
	require.NoError(t, schedules.Save(ctx, sched))

	s := New(schedules, workflows, q, discardLogger(), nil)
	require.NoError(t, s.Tick(ctx, now))
	assert.Equal(t, 1, q.Size(), "48 missed hourly fires still emit exactly one job")
}
