// Package dispatcher implements the core matching loop from spec.md
// §4.8: pop the queue head, ask the Selection Service, send job_assign,
// track acceptance against a pending-ack deadline, and react to every
// inbound job lifecycle message. The pending-ack correlation map follows
// the teacher's pendingHTTPRequests map in cluster-gateway/server.go
// (requestID -> reply channel, guarded by its own mutex); here the
// correlation key is the job id and the "reply" is a protocol message
// delivered through Handlers rather than a channel send, since the
// dispatcher's tick loop — not a blocked HTTP handler — is the consumer.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/metrics"
	"github.com/casarerpa/orchestrator/internal/protocol"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/registry"
	"github.com/casarerpa/orchestrator/internal/repository"
	"github.com/casarerpa/orchestrator/internal/selection"
)

// Defaults match spec.md §4.8.
const (
	DefaultDispatchInterval = 5 * time.Second
	DefaultAckTimeout       = 10 * time.Second
	DefaultJobTimeout       = time.Hour
	MaxConsecutiveRejects   = 3
)

// Sender abstracts the protocol server's outbound path so this package
// never imports the concrete websocket implementation detail beyond the
// Envelope type it already shares with protocol.
type Sender interface {
	SendTo(robotID string, env protocol.Envelope) error
}

type pendingAssignment struct {
	jobID     string
	robotID   string
	deadline  time.Time
	createdAt time.Time
}

// Dispatcher owns the match-and-assign loop. It implements
// protocol.Handlers so the protocol server can route inbound job
// messages directly into it.
type Dispatcher struct {
	jobs        repository.JobRepository
	assignments repository.AssignmentRepository
	registry    *registry.Registry
	queue       *queue.Queue
	sender      Sender
	logger      *slog.Logger
	clock       func() time.Time

	ackTimeout time.Duration
	jobTimeout time.Duration
	metrics    *metrics.Registry

	mu            sync.Mutex
	pending       map[string]*pendingAssignment // by job id
	pendingCancel map[string]bool               // job id -> true if the outstanding job_cancel was a timeout (vs operator cancel)

	// wake lets callers outside the tick loop (job submission, a robot's
	// capacity freeing up) request an immediate Tick instead of waiting
	// for the next interval (spec.md §4.8: the loop wakes "immediately
	// when (a) a job is enqueued, (b) a robot becomes available").
	// Buffered 1 and fed through a non-blocking send so a burst of wake
	// calls between ticks collapses to a single extra Tick.
	wake chan struct{}
}

// SetMetrics attaches a metrics registry; counters recorded before this
// is called (or if it is never called) are simply dropped.
func (d *Dispatcher) SetMetrics(m *metrics.Registry) {
	d.metrics = m
}

// New constructs a Dispatcher.
func New(jobs repository.JobRepository, assignments repository.AssignmentRepository, reg *registry.Registry, q *queue.Queue, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:        jobs,
		assignments: assignments,
		registry:    reg,
		queue:       q,
		sender:      sender,
		logger:      logger.With("component", "dispatcher"),
		clock:       time.Now,
		ackTimeout:    DefaultAckTimeout,
		jobTimeout:    DefaultJobTimeout,
		pending:       make(map[string]*pendingAssignment),
		pendingCancel: make(map[string]bool),
		wake:          make(chan struct{}, 1),
	}
}

// Wake requests an immediate Tick outside the regular dispatch interval.
// Callers: the Admin API's job-submit handler after a successful
// Enqueue, and the dispatcher's own reject/complete/robot-loss paths
// once they release a robot's capacity.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks, ticking at interval and also draining Wake calls for
// immediate-dispatch triggers (job enqueued, robot freed up), until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		case <-d.wake:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch pass: ack-timeout sweep, then a single
// selection+assign attempt against the queue head (spec.md §4.8 step 3:
// on NoAvailableRobot, stop rather than skip to the next job, preserving
// priority order).
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.clock()
	d.sweepAckTimeouts(ctx, now)

	job := d.queue.Peek()
	if job == nil {
		return
	}

	robots := d.registry.Snapshot()
	assignments, err := d.assignments.AssignmentsForWorkflow(ctx, job.WorkflowID)
	if err != nil {
		d.logger.Error("load assignments failed", "workflow_id", job.WorkflowID, "error", err)
		return
	}
	overrides, err := d.assignments.OverridesForWorkflow(ctx, job.WorkflowID)
	if err != nil {
		d.logger.Error("load overrides failed", "workflow_id", job.WorkflowID, "error", err)
		return
	}

	if d.metrics != nil {
		d.metrics.DispatchAttemptsTotal.Inc()
	}

	decision, err := selection.Select(selection.Request{
		Job:         job,
		WorkflowID:  job.WorkflowID,
		Robots:      robots,
		Assignments: assignments,
		Overrides:   overrides,
	})
	if err != nil {
		// No robot available for the head job: stop this tick entirely.
		if d.metrics != nil {
			d.metrics.NoAvailableRobotTotal.Inc()
		}
		return
	}

	d.assignJob(ctx, decision.RobotID, now)
}

// assignJob pops the head, starts it, and attempts to claim capacity on
// the chosen robot, rolling back on a capacity race.
func (d *Dispatcher) assignJob(ctx context.Context, robotID string, now time.Time) {
	job := d.queue.Pop()
	if job == nil {
		return
	}
	if err := job.Start(now); err != nil {
		d.logger.Error("job failed to transition to running", "job_id", job.ID, "error", err)
		return
	}

	if err := d.registry.Mutate(robotID, func(r *domain.Robot) error {
		return r.AssignJob(job.ID)
	}); err != nil {
		// Robot was concurrently filled: roll back and re-enqueue.
		if rbErr := job.ResetToQueued(false); rbErr != nil {
			d.logger.Error("rollback failed after capacity race", "job_id", job.ID, "error", rbErr)
			return
		}
		if reErr := d.queue.Requeue(job); reErr != nil {
			d.logger.Error("requeue failed after capacity race", "job_id", job.ID, "error", reErr)
		}
		return
	}

	if err := d.jobs.Save(ctx, job); err != nil {
		d.logger.Error("persist running job failed", "job_id", job.ID, "error", err)
	}

	payload, _ := json.Marshal(protocol.JobAssignPayload{JobID: job.ID, WorkflowID: job.WorkflowID, WorkflowBlob: job.WorkflowBlob})
	if err := d.sender.SendTo(robotID, protocol.Envelope{Type: protocol.TypeJobAssign, ID: job.ID, Payload: payload}); err != nil {
		d.logger.Warn("failed to send job_assign, will retry on ack timeout", "job_id", job.ID, "robot_id", robotID, "error", err)
	}

	d.mu.Lock()
	d.pending[job.ID] = &pendingAssignment{jobID: job.ID, robotID: robotID, deadline: now.Add(d.ackTimeout), createdAt: now}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.JobsAssignedTotal.Inc()
	}
}

func (d *Dispatcher) sweepAckTimeouts(ctx context.Context, now time.Time) {
	d.mu.Lock()
	var expired []*pendingAssignment
	for id, p := range d.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(d.pending, id)
		}
	}
	d.mu.Unlock()

	for _, p := range expired {
		d.handleRejectOrTimeout(ctx, p.robotID, p.jobID, "ack timeout", now)
	}
}

// OnJobAccept confirms a pending assignment; the job stays Running.
func (d *Dispatcher) OnJobAccept(robotID string, _ protocol.Envelope, payload protocol.JobAcceptPayload) {
	d.mu.Lock()
	delete(d.pending, payload.JobID)
	d.mu.Unlock()
}

// OnJobReject rolls the job back to Queued and re-attempts dispatch next
// tick, escalating to Failed after MaxConsecutiveRejects.
func (d *Dispatcher) OnJobReject(robotID string, _ protocol.Envelope, payload protocol.JobRejectPayload) {
	d.handleRejectOrTimeout(context.Background(), robotID, payload.JobID, payload.Reason, d.clock())
}

func (d *Dispatcher) handleRejectOrTimeout(ctx context.Context, robotID, jobID, reason string, now time.Time) {
	d.mu.Lock()
	delete(d.pending, jobID)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.JobsRejectedTotal.Inc()
	}

	if err := d.registry.Mutate(robotID, func(r *domain.Robot) error {
		return r.CompleteJob(jobID)
	}); err != nil {
		d.logger.Warn("robot no longer holds rejected job's capacity", "job_id", jobID, "robot_id", robotID, "error", err)
	}

	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		d.logger.Error("rejected job not found", "job_id", jobID, "error", err)
		return
	}

	job.RejectCount++
	if job.RejectCount >= MaxConsecutiveRejects {
		if err := job.FailFromQueued(domain.JobError{Message: "no robot accepted", Type: "dispatch_exhausted"}, now); err != nil {
			// Job was Running, not Queued (e.g. ack timeout path popped but
			// never rolled back) — reset then fail.
			_ = job.ResetToQueued(true)
			_ = job.FailFromQueued(domain.JobError{Message: "no robot accepted", Type: "dispatch_exhausted"}, now)
		}
		if err := d.jobs.Save(ctx, job); err != nil {
			d.logger.Error("persist exhausted job failed", "job_id", jobID, "error", err)
		}
		d.Wake() // the rejecting robot's capacity was released above
		return
	}

	if err := job.ResetToQueued(true); err != nil {
		d.logger.Error("reset to queued failed", "job_id", jobID, "error", err)
		return
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		d.logger.Error("persist requeued job failed", "job_id", jobID, "error", err)
	}
	if err := d.queue.Requeue(job); err != nil {
		d.logger.Error("requeue after reject failed", "job_id", jobID, "error", err)
	}
	d.Wake()
}

// OnJobProgress updates progress without a status transition.
func (d *Dispatcher) OnJobProgress(robotID string, payload protocol.JobProgressPayload) {
	ctx := context.Background()
	job, err := d.jobs.Get(ctx, payload.JobID)
	if err != nil {
		return
	}
	if err := job.SetProgress(payload.Progress, payload.CurrentNode); err != nil {
		d.logger.Warn("progress update rejected", "job_id", payload.JobID, "error", err)
		return
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		d.logger.Error("persist progress failed", "job_id", payload.JobID, "error", err)
	}
}

// OnJobComplete finalizes a job and releases the robot's capacity.
func (d *Dispatcher) OnJobComplete(robotID string, payload protocol.JobCompletePayload) {
	ctx := context.Background()
	d.finishJob(ctx, robotID, payload.JobID, func(job *domain.Job, now time.Time) error {
		return job.Complete(payload.Result, now)
	})
}

// OnJobFailed finalizes a job as Failed with the reported error.
func (d *Dispatcher) OnJobFailed(robotID string, payload protocol.JobFailedPayload) {
	ctx := context.Background()
	d.finishJob(ctx, robotID, payload.JobID, func(job *domain.Job, now time.Time) error {
		return job.Fail(domain.JobError{Message: payload.Message, Type: payload.Type, FailedNode: payload.FailedNode}, now)
	})
}

// OnJobCancelled finalizes a job as Timeout or Cancelled depending on
// which path requested the job_cancel this confirms: CancelJob (operator
// request) lands on Cancelled, SweepJobTimeouts (job-level timeout) lands
// on Timeout. An unrecognized correlation (e.g. a stray confirmation)
// defaults to Cancelled.
func (d *Dispatcher) OnJobCancelled(robotID string, jobID string) {
	ctx := context.Background()

	d.mu.Lock()
	isTimeout := d.pendingCancel[jobID]
	delete(d.pendingCancel, jobID)
	d.mu.Unlock()

	d.finishJob(ctx, robotID, jobID, func(job *domain.Job, now time.Time) error {
		if isTimeout {
			return job.Timeout(now)
		}
		return job.Cancel(now)
	})
}

func (d *Dispatcher) finishJob(ctx context.Context, robotID, jobID string, transition func(*domain.Job, time.Time) error) {
	now := d.clock()
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		// At-least-once semantics: a completion arriving after the
		// registry already reassigned/cleared this job id is ignored.
		d.logger.Warn("completion for unknown job ignored", "job_id", jobID, "error", err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	if err := transition(job, now); err != nil {
		d.logger.Warn("job transition rejected", "job_id", jobID, "error", err)
		return
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		d.logger.Error("persist finished job failed", "job_id", jobID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.JobsCompletedTotal.WithLabelValues(job.Status.String()).Inc()
	}
	if err := d.registry.Mutate(robotID, func(r *domain.Robot) error {
		return r.CompleteJob(jobID)
	}); err != nil {
		d.logger.Warn("robot capacity release failed", "job_id", jobID, "robot_id", robotID, "error", err)
	}
	d.Wake() // robot freed up: spec.md §4.8 scenario 3 wakes dispatch immediately
}

// CancelJob is the Admin API's entry point for operator-initiated
// cancellation. A Queued job is pulled off the queue and cancelled
// immediately; a Running job is sent job_cancel and left Running until
// the robot confirms via OnJobCancelled or ForceCancel is called. No
// timer forces the cancel after cancel_grace_seconds.
func (d *Dispatcher) CancelJob(ctx context.Context, jobID string, now time.Time) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if job.Status == domain.StatusQueued {
		if _, err := d.queue.Cancel(jobID, now); err != nil {
			return err
		}
	}
	if job.Status == domain.StatusRunning {
		robotID := d.robotForJob(jobID)
		if robotID != "" {
			d.mu.Lock()
			d.pendingCancel[jobID] = false
			d.mu.Unlock()
			payload, _ := json.Marshal(protocol.JobCancelPayload{JobID: jobID})
			if err := d.sender.SendTo(robotID, protocol.Envelope{Type: protocol.TypeJobCancel, Payload: payload}); err != nil {
				d.logger.Warn("failed to send job_cancel", "job_id", jobID, "robot_id", robotID, "error", err)
			}
		}
		return nil
	}
	if err := job.Cancel(now); err != nil {
		return err
	}
	return d.jobs.Save(ctx, job)
}

// ForceCancel cancels a Running job unconditionally, without waiting for
// the robot to confirm via OnJobCancelled. The Admin API calls it only
// when a cancel request sets force; nothing calls it on a grace timer.
func (d *Dispatcher) ForceCancel(ctx context.Context, jobID string, now time.Time) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := job.Cancel(now); err != nil {
		return err
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		return err
	}
	if robotID := d.robotForJob(jobID); robotID != "" {
		if err := d.registry.Mutate(robotID, func(r *domain.Robot) error {
			return r.CompleteJob(jobID)
		}); err != nil {
			d.logger.Warn("robot capacity release failed on force-cancel", "job_id", jobID, "robot_id", robotID, "error", err)
		}
		d.Wake()
	}
	return nil
}

// Notify sends a control-plane message (pause/resume/shutdown) to
// robotID over the protocol connection, for the Admin API's robot
// control handlers (spec.md §6.1's O→R pause/resume/shutdown messages).
func (d *Dispatcher) Notify(robotID string, msgType protocol.MessageType, graceful bool) error {
	payload, err := json.Marshal(protocol.ControlPayload{RobotID: robotID, Graceful: graceful})
	if err != nil {
		return err
	}
	return d.sender.SendTo(robotID, protocol.Envelope{Type: msgType, Payload: payload})
}

// OnLogEntry and OnLogBatch are no-ops here; log ingest is handled by the
// log sink wired separately into the protocol server (spec.md routes
// log_entry/log_batch there, not to the dispatcher).
func (d *Dispatcher) OnLogEntry(string, protocol.LogEntryPayload) {}
func (d *Dispatcher) OnLogBatch(string, protocol.LogBatchPayload) {}
func (d *Dispatcher) OnStatusResponse(string, json.RawMessage)    {}

// SweepStaleRobots recovers in-flight jobs for robots the registry just
// marked Offline: retry-safe workflows go back to Queued, everything else
// fails with "robot lost" (spec.md §4.8's robot-disappearance handling).
func (d *Dispatcher) SweepStaleRobots(ctx context.Context, stale []registry.StaleRobot, workflows repository.WorkflowRepository, now time.Time) {
	for _, s := range stale {
		for _, jobID := range s.JobIDs {
			d.recoverLostJob(ctx, jobID, workflows, now)
		}
	}
}

func (d *Dispatcher) recoverLostJob(ctx context.Context, jobID string, workflows repository.WorkflowRepository, now time.Time) {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil || job.Status.IsTerminal() {
		return
	}

	retrySafe := false
	if wf, err := workflows.Get(ctx, job.WorkflowID); err == nil {
		retrySafe = wf.RetrySafe
	}

	d.mu.Lock()
	delete(d.pending, jobID)
	d.mu.Unlock()

	if retrySafe {
		if err := job.ResetToQueued(true); err != nil {
			d.logger.Error("robot-loss rollback failed", "job_id", jobID, "error", err)
			return
		}
		if err := d.jobs.Save(ctx, job); err != nil {
			d.logger.Error("persist robot-loss rollback failed", "job_id", jobID, "error", err)
		}
		if err := d.queue.Requeue(job); err != nil {
			d.logger.Error("requeue after robot loss failed", "job_id", jobID, "error", err)
		}
		d.Wake()
		return
	}

	if err := job.Fail(domain.JobError{Message: "robot lost", Type: "robot_lost"}, now); err != nil {
		d.logger.Error("robot-loss fail transition failed", "job_id", jobID, "error", err)
		return
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		d.logger.Error("persist robot-loss failure failed", "job_id", jobID, "error", err)
	}
}

// SweepJobTimeouts transitions any Running job whose age exceeds its
// timeout into the cancel-request path: send job_cancel and wait for
// job_cancelled. If the job is still Running at the next sweep after that
// job_cancel, it is marked Timeout directly and its robot slot released.
func (d *Dispatcher) SweepJobTimeouts(ctx context.Context, runningJobs []*domain.Job, now time.Time) {
	for _, job := range runningJobs {
		if job.StartedAt == nil || now.Sub(*job.StartedAt) < d.jobTimeout {
			continue
		}
		robotID := d.robotForJob(job.ID)
		if robotID == "" {
			_ = job.Timeout(now)
			_ = d.jobs.Save(ctx, job)
			continue
		}
		d.mu.Lock()
		alreadyAsked := d.pendingCancel[job.ID]
		d.pendingCancel[job.ID] = true
		d.mu.Unlock()
		if alreadyAsked {
			d.mu.Lock()
			delete(d.pendingCancel, job.ID)
			d.mu.Unlock()
			d.finishJob(ctx, robotID, job.ID, func(j *domain.Job, at time.Time) error { return j.Timeout(at) })
			continue
		}
		payload, _ := json.Marshal(protocol.JobCancelPayload{JobID: job.ID, Reason: "job timeout exceeded"})
		if err := d.sender.SendTo(robotID, protocol.Envelope{Type: protocol.TypeJobCancel, Payload: payload}); err != nil {
			d.logger.Warn("failed to send job_cancel on timeout", "job_id", job.ID, "error", err)
		}
	}
}

func (d *Dispatcher) robotForJob(jobID string) string {
	for _, r := range d.registry.Snapshot() {
		for _, j := range r.CurrentJobs {
			if j == jobID {
				return r.ID
			}
		}
	}
	return ""
}
