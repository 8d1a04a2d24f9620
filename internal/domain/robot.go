package domain

import (
	"fmt"
	"time"
)

// RobotStatus is a worker agent's current availability.
type RobotStatus int

const (
	RobotOffline RobotStatus = iota
	RobotOnline
	RobotBusy
	RobotError
	RobotMaintenance
)

func (s RobotStatus) String() string {
	switch s {
	case RobotOffline:
		return "offline"
	case RobotOnline:
		return "online"
	case RobotBusy:
		return "busy"
	case RobotError:
		return "error"
	case RobotMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Capability is a labeled competency a Robot advertises and a Job or node
// override may require.
type Capability string

const (
	CapabilityBrowser Capability = "browser"
	CapabilityDesktop Capability = "desktop"
	CapabilityGpu     Capability = "gpu"
	CapabilityCloud   Capability = "cloud"
)

// Robot is a remote worker agent connected over the protocol server.
type Robot struct {
	ID                 string
	Name               string
	Status             RobotStatus
	Environment        string
	TenantID           string
	MaxConcurrentJobs  int
	CurrentJobs        []string // ordered, unique job IDs
	Capabilities       map[Capability]bool
	LastHeartbeat      time.Time
	WorkflowAffinities map[string]bool // workflow IDs this robot defaults for
}

// NewRobot constructs an Offline robot record. It becomes Online only
// through MarkOnline, which requires a fresh heartbeat.
func NewRobot(id, name, environment string, maxConcurrentJobs int, capabilities []Capability) *Robot {
	caps := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return &Robot{
		ID:                 id,
		Name:               name,
		Status:             RobotOffline,
		Environment:        environment,
		MaxConcurrentJobs:  maxConcurrentJobs,
		CurrentJobs:        nil,
		Capabilities:       caps,
		WorkflowAffinities: map[string]bool{},
	}
}

// HasCapability reports whether the robot advertises cap.
func (r *Robot) HasCapability(cap Capability) bool {
	return r.Capabilities[cap]
}

// Utilization returns current load as a fraction in [0,1]. A robot with
// zero capacity is always fully utilized.
func (r *Robot) Utilization() float64 {
	if r.MaxConcurrentJobs <= 0 {
		return 1
	}
	return float64(len(r.CurrentJobs)) / float64(r.MaxConcurrentJobs)
}

// HasCapacity reports whether another job can be assigned.
func (r *Robot) HasCapacity() bool {
	return len(r.CurrentJobs) < r.MaxConcurrentJobs
}

// MarkOnline transitions the robot to Online on receipt of a fresh
// heartbeat. This is the only path from Offline to Online.
func (r *Robot) MarkOnline(heartbeatAt time.Time) {
	r.Status = RobotOnline
	r.LastHeartbeat = heartbeatAt
}

// MarkOffline is invoked by the Registry sweep when a heartbeat goes
// stale. In-flight job recovery is the caller's responsibility (dispatcher
// owns that, not the entity).
func (r *Robot) MarkOffline() {
	r.Status = RobotOffline
}

// Heartbeat refreshes LastHeartbeat without changing Status; used when a
// heartbeat arrives for a robot that is already Online/Busy.
func (r *Robot) Heartbeat(at time.Time) {
	r.LastHeartbeat = at
}

// AssignJob requires the robot to be Online, rejects duplicates, and fails
// at capacity. It flips the robot to Busy once full.
func (r *Robot) AssignJob(jobID string) error {
	if r.Status != RobotOnline && r.Status != RobotBusy {
		return fmt.Errorf("%w: robot %s is %s, not online", ErrInvalidTransition, r.ID, r.Status)
	}
	for _, existing := range r.CurrentJobs {
		if existing == jobID {
			return fmt.Errorf("%w: job %s already assigned to robot %s", ErrDuplicateAssignment, jobID, r.ID)
		}
	}
	if !r.HasCapacity() {
		return fmt.Errorf("%w: robot %s has %d/%d jobs", ErrAtCapacity, r.ID, len(r.CurrentJobs), r.MaxConcurrentJobs)
	}
	r.CurrentJobs = append(r.CurrentJobs, jobID)
	if len(r.CurrentJobs) >= r.MaxConcurrentJobs {
		r.Status = RobotBusy
	}
	return nil
}

// CompleteJob removes jobID from the robot's in-flight set. If the robot
// was Busy and is now below capacity, it returns to Online.
func (r *Robot) CompleteJob(jobID string) error {
	idx := -1
	for i, existing := range r.CurrentJobs {
		if existing == jobID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: job %s not assigned to robot %s", ErrNotFound, jobID, r.ID)
	}
	r.CurrentJobs = append(r.CurrentJobs[:idx], r.CurrentJobs[idx+1:]...)
	if r.Status == RobotBusy && r.HasCapacity() {
		r.Status = RobotOnline
	}
	return nil
}

// InvariantHolds checks the len(current_jobs) <= max_concurrent_jobs
// invariant and the no-duplicates invariant; used by tests.
func (r *Robot) InvariantHolds() error {
	if len(r.CurrentJobs) > r.MaxConcurrentJobs {
		return fmt.Errorf("%w: robot %s has %d jobs over max %d", ErrInvariantViolation, r.ID, len(r.CurrentJobs), r.MaxConcurrentJobs)
	}
	seen := make(map[string]bool, len(r.CurrentJobs))
	for _, j := range r.CurrentJobs {
		if seen[j] {
			return fmt.Errorf("%w: robot %s has duplicate job %s", ErrInvariantViolation, r.ID, j)
		}
		seen[j] = true
	}
	return nil
}

// Pause moves the robot to Maintenance, making it ineligible for new
// assignments. In-flight jobs are left running; the caller (Admin API)
// decides whether to wait for them to drain.
func (r *Robot) Pause() error {
	if r.Status == RobotOffline {
		return fmt.Errorf("%w: robot %s is offline, nothing to pause", ErrInvalidTransition, r.ID)
	}
	r.Status = RobotMaintenance
	return nil
}

// Resume moves a Maintenance robot back to Online. A fresh heartbeat is
// still required before it is selectable again if the heartbeat has gone
// stale in the meantime; Resume only clears the administrative hold.
func (r *Robot) Resume() error {
	if r.Status != RobotMaintenance {
		return fmt.Errorf("%w: robot %s is %s, not in maintenance", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RobotOnline
	return nil
}

// Shutdown marks the robot Offline administratively, the same terminal
// state the Registry sweep assigns on heartbeat expiry. It does not wait
// for CurrentJobs to drain.
func (r *Robot) Shutdown() {
	r.Status = RobotOffline
}

// Snapshot returns a deep copy safe to hand to the stateless Selection
// Service, preventing the dispatcher from racing the registry's writer.
func (r *Robot) Snapshot() *Robot {
	cp := *r
	cp.CurrentJobs = append([]string(nil), r.CurrentJobs...)
	cp.Capabilities = make(map[Capability]bool, len(r.Capabilities))
	for k, v := range r.Capabilities {
		cp.Capabilities[k] = v
	}
	cp.WorkflowAffinities = make(map[string]bool, len(r.WorkflowAffinities))
	for k, v := range r.WorkflowAffinities {
		cp.WorkflowAffinities[k] = v
	}
	return &cp
}
