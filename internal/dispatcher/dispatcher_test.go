package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/protocol"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/registry"
	"github.com/casarerpa/orchestrator/internal/repository/memory"
)

type fakeSender struct {
	mu  sync.Mutex
	log []protocol.Envelope
}

func (f *fakeSender) SendTo(robotID string, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, env)
	return nil
}

func (f *fakeSender) last() protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.log[len(f.log)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Dispatcher, *memory.JobRepository, *registry.Registry, *queue.Queue, *fakeSender) {
	t.Helper()
	jobs := memory.NewJobRepository()
	assignments := memory.NewAssignmentRepository()
	reg := registry.New(discardLogger(), time.Minute)
	q := queue.New(nil)
	sender := &fakeSender{}
	d := New(jobs, assignments, reg, q, sender, discardLogger())
	return d, jobs, reg, q, sender
}

func TestTickAssignsQueuedJobToOnlineRobot(t *testing.T) {
	d, jobs, reg, q, sender := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 2, nil)
	reg.Register(robot, now)

	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))

	d.Tick(ctx)

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, protocol.TypeJobAssign, sender.last().Type)

	r, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Contains(t, r.CurrentJobs, "j1")
}

func TestTickLeavesJobQueuedWhenNoRobotAvailable(t *testing.T) {
	d, jobs, _, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))

	d.Tick(ctx)

	assert.Equal(t, 1, q.Size())
	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

func TestOnJobCompleteReleasesRobotCapacity(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	d.OnJobComplete("r1", protocol.JobCompletePayload{JobID: "j1", Result: map[string]any{"ok": true}})

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	r, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Empty(t, r.CurrentJobs)
	assert.Equal(t, domain.RobotOnline, r.Status)
}

func TestRejectStormFailsJobAfterMaxRetries(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))

	for i := 0; i < MaxConsecutiveRejects; i++ {
		d.Tick(ctx)
		d.OnJobReject("r1", protocol.Envelope{}, protocol.JobRejectPayload{JobID: "j1", Reason: "busy"})
	}

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 0, q.Size())
}

func TestOnJobAcceptClearsPendingAck(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	d.OnJobAccept("r1", protocol.Envelope{}, protocol.JobAcceptPayload{JobID: "j1"})

	d.mu.Lock()
	_, stillPending := d.pending["j1"]
	d.mu.Unlock()
	assert.False(t, stillPending)
}

func TestRobotLossRetrySafeRequeuesJob(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()
	workflows := memory.NewWorkflowRepository()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished, RetrySafe: true}
	require.NoError(t, workflows.Save(ctx, wf))
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	stale := reg.Sweep(now.Add(200 * time.Second))
	require.Len(t, stale, 1)

	d.SweepStaleRobots(ctx, stale, workflows, now.Add(200*time.Second))

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 1, q.Size())
}

func TestCancelJobRemovesQueuedJobFromQueue(t *testing.T) {
	d, jobs, _, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))

	require.NoError(t, d.CancelJob(ctx, "j1", now))

	assert.Equal(t, 0, q.Size())
	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestCancelJobSendsJobCancelForRunningJob(t *testing.T) {
	d, jobs, reg, q, sender := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	require.NoError(t, d.CancelJob(ctx, "j1", now))

	assert.Equal(t, protocol.TypeJobCancel, sender.last().Type)
	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status, "still running until the robot confirms or ForceCancel is called")
}

func TestForceCancelReleasesRobotCapacity(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	require.NoError(t, d.ForceCancel(ctx, "j1", now))

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	r, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Empty(t, r.CurrentJobs)
}

func TestRobotLossNotRetrySafeFailsJob(t *testing.T) {
	d, jobs, reg, q, _ := setup(t)
	ctx := context.Background()
	now := time.Now()
	workflows := memory.NewWorkflowRepository()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	wf := &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished, RetrySafe: false}
	require.NoError(t, workflows.Save(ctx, wf))
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job, now))
	require.NoError(t, jobs.Save(ctx, job))
	d.Tick(ctx)

	stale := reg.Sweep(now.Add(200 * time.Second))
	require.Len(t, stale, 1)

	d.SweepStaleRobots(ctx, stale, workflows, now.Add(200*time.Second))

	got, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "robot_lost", got.Error.Type)
}

func TestWakeTriggersImmediateDispatchWithoutWaitingForInterval(t *testing.T) {
	d, jobs, reg, q, sender := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, jobs.Save(ctx, job))

	go d.Run(ctx, time.Hour)

	require.NoError(t, q.Enqueue(job, now))
	d.Wake()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.log) > 0
	}, time.Second, 5*time.Millisecond, "Wake should trigger a Tick well before the hour-long interval elapses")
}

func TestFinishJobWakesDispatcherForNextQueuedJob(t *testing.T) {
	d, jobs, reg, q, sender := setup(t)
	ctx := context.Background()
	now := time.Now()

	robot := domain.NewRobot("r1", "Robot 1", "prod", 1, nil)
	reg.Register(robot, now)
	job1 := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, q.Enqueue(job1, now))
	require.NoError(t, jobs.Save(ctx, job1))
	d.Tick(ctx) // assigns j1 to r1, which is now at capacity

	job2 := domain.NewJob("j2", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, jobs.Save(ctx, job2))
	require.NoError(t, q.Enqueue(job2, now))

	// Drain the wake channel so only finishJob's signal is observed below.
	select {
	case <-d.wake:
	default:
	}

	d.OnJobComplete("r1", protocol.JobCompletePayload{JobID: "j1"})

	select {
	case <-d.wake:
	default:
		t.Fatal("expected finishJob to signal wake after releasing robot capacity")
	}
}
