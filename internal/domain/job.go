package domain

import (
	"fmt"
	"time"
)

// Priority buckets a Job for queue ordering. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is a Job's position in its lifecycle. See transitionTable below
// for the legal graph.
type Status int

const (
	StatusPending Status = iota
	StatusQueued
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusTimeout
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a Job in this status may never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitionTable is the static legal job status transition graph.
var transitionTable = map[Status]map[Status]bool{
	StatusPending: {StatusQueued: true, StatusCancelled: true},
	StatusQueued:  {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
		StatusCancelled: true,
	},
}

// JobError is the error payload recorded on a Failed or Timeout Job.
type JobError struct {
	Message    string
	Type       string
	FailedNode string
}

// Job is the unit of work tracked from submission to a terminal status.
type Job struct {
	ID             string
	WorkflowID     string
	WorkflowBlob   []byte
	TargetRobotID  string
	TenantID       string
	Priority       Priority
	Status         Status
	ScheduledStart *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CurrentNode    string
	Progress       int
	Result         map[string]any
	Error          *JobError
	IdempotencyKey string

	// RetryOfJobID, when set, points at the terminal Job this one retries.
	// The original Job this references never leaves its terminal state;
	// a retry always produces a new Job.
	RetryOfJobID string

	// Deprioritized marks a job that was bounced back to Queued after a
	// reject or robot loss. It is recorded only: queue ordering and the
	// dispatcher do not read it.
	Deprioritized bool

	// RejectCount tracks consecutive job_reject/ack-timeout outcomes for
	// this job's current dispatch attempt cycle.
	RejectCount int
}

// NewJob constructs a Pending job. Submission-time validation (workflow
// published, idempotency dedup) is the Job Queue's responsibility, not the
// entity's.
func NewJob(id, workflowID string, blob []byte, priority Priority, idempotencyKey string, now time.Time) *Job {
	return &Job{
		ID:             id,
		WorkflowID:     workflowID,
		WorkflowBlob:   blob,
		Priority:       priority,
		Status:         StatusPending,
		CreatedAt:      now,
		IdempotencyKey: idempotencyKey,
		Result:         map[string]any{},
	}
}

// CanTransitionTo reports whether newStatus is reachable from the Job's
// current status without mutating anything.
func (j *Job) CanTransitionTo(newStatus Status) bool {
	if j.Status.IsTerminal() {
		return false
	}
	return transitionTable[j.Status][newStatus]
}

// transitionTo consults the static transition table and, if legal,
// updates Status plus the relevant timestamp. It is the only way a Job's
// Status field changes.
func (j *Job) transitionTo(newStatus Status, now time.Time) error {
	if !j.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: job %s cannot go from %s to %s", ErrInvalidTransition, j.ID, j.Status, newStatus)
	}
	j.Status = newStatus
	switch newStatus {
	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		if j.CompletedAt == nil {
			j.CompletedAt = &now
		}
	}
	return nil
}

// Enqueue moves a Pending job to Queued.
func (j *Job) Enqueue(now time.Time) error {
	return j.transitionTo(StatusQueued, now)
}

// Start moves a Queued job to Running.
func (j *Job) Start(now time.Time) error {
	return j.transitionTo(StatusRunning, now)
}

// Complete moves a Running job to Completed, recording the result payload.
// Progress is forced to 100 per the invariant that a Completed job always
// reports full progress.
func (j *Job) Complete(result map[string]any, now time.Time) error {
	if err := j.transitionTo(StatusCompleted, now); err != nil {
		return err
	}
	j.Result = result
	j.Progress = 100
	return nil
}

// Fail moves a Running job to Failed, recording the error payload. A
// Queued job fails through FailFromQueued instead.
func (j *Job) Fail(jobErr JobError, now time.Time) error {
	if err := j.transitionTo(StatusFailed, now); err != nil {
		return err
	}
	j.Error = &jobErr
	return nil
}

// FailFromQueued allows a queued job to fail directly, used for the
// reject-storm exhaustion path where the job never reached Running.
func (j *Job) FailFromQueued(jobErr JobError, now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: job %s is %s, not queued", ErrInvalidTransition, j.ID, j.Status)
	}
	j.Status = StatusFailed
	j.Error = &jobErr
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	return nil
}

// Timeout moves a Running job to Timeout.
func (j *Job) Timeout(now time.Time) error {
	return j.transitionTo(StatusTimeout, now)
}

// Cancel moves a Pending, Queued, or Running job to Cancelled. Cancelling
// an already-cancelled job is idempotent: it is a no-op returning nil.
func (j *Job) Cancel(now time.Time) error {
	if j.Status == StatusCancelled {
		return nil
	}
	return j.transitionTo(StatusCancelled, now)
}

// SetProgress updates progress and current-node marker without changing
// Status: a progress report never transitions a job.
func (j *Job) SetProgress(progress int, currentNode string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d out of [0,100]", ErrInvariantViolation, progress)
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is terminal (%s)", ErrInvalidTransition, j.ID, j.Status)
	}
	j.Progress = progress
	if currentNode != "" {
		j.CurrentNode = currentNode
	}
	return nil
}

// ResetToQueued reverts a Running job to Queued, used on reject/ack-timeout
// rollback and robot-loss recovery for retry-safe workflows. The
// deprioritize flag is stored in Deprioritized, which nothing else reads.
func (j *Job) ResetToQueued(deprioritize bool) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: job %s is %s, not running", ErrInvalidTransition, j.ID, j.Status)
	}
	j.Status = StatusQueued
	j.StartedAt = nil
	j.Deprioritized = deprioritize
	return nil
}
