// Package registry tracks the live robot fleet: process-wide state
// mapping a robot identifier to its entity plus last-heartbeat time,
// swept periodically for staleness. Unlike a connection manager that
// relies solely on the websocket read deadline / ping ticker for
// liveness, this package adds its own periodic offline sweep so robot
// loss is detected even between protocol-layer pings.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// DefaultSweepInterval and DefaultHeartbeatTimeout are the default
// liveness-sweep cadence and heartbeat staleness window.
const (
	DefaultSweepInterval    = 30 * time.Second
	DefaultHeartbeatTimeout = 90 * time.Second
)

// record is the registry's internal per-robot bookkeeping: the entity
// plus the heartbeat clock used for the sweep. The live protocol
// connection handle itself is tracked by the protocol package, looked up
// by robot ID, to keep this package free of any websocket dependency.
type record struct {
	robot         *domain.Robot
	lastHeartbeat time.Time
}

// Registry is the single writer for robot liveness state. All mutation
// goes through its exported methods; reads outside that goroutine must
// use Snapshot.
type Registry struct {
	mu      sync.RWMutex
	robots  map[string]*record
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a Registry. timeout defaults to DefaultHeartbeatTimeout
// if zero.
func New(logger *slog.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		robots:  make(map[string]*record),
		logger:  logger,
		timeout: timeout,
	}
}

// Register creates or updates a robot's record and marks it Online. This
// is the only path from Offline to Online.
func (r *Registry) Register(robot *domain.Robot, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot.MarkOnline(at)
	r.robots[robot.ID] = &record{robot: robot, lastHeartbeat: at}
	r.logger.Info("robot registered", "robot_id", robot.ID, "environment", robot.Environment)
}

// Heartbeat refreshes a known robot's liveness clock without disturbing
// its Busy/Online status.
func (r *Registry) Heartbeat(robotID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.robots[robotID]
	if !ok {
		return false
	}
	rec.robot.Heartbeat(at)
	rec.lastHeartbeat = at
	return true
}

// Get returns a snapshot of one robot's current entity state.
func (r *Registry) Get(robotID string) (*domain.Robot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.robots[robotID]
	if !ok {
		return nil, false
	}
	return rec.robot.Snapshot(), true
}

// Mutate runs fn against the live (non-snapshot) robot entity under the
// registry's write lock — the only sanctioned path for the dispatcher to
// call AssignJob/CompleteJob against registry-owned state.
func (r *Registry) Mutate(robotID string, fn func(*domain.Robot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.robots[robotID]
	if !ok {
		return domain.ErrNotFound
	}
	return fn(rec.robot)
}

// Snapshot returns an immutable point-in-time view of the whole fleet,
// safe to pass to the stateless Selection Service.
func (r *Registry) Snapshot() []*domain.Robot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Robot, 0, len(r.robots))
	for _, rec := range r.robots {
		out = append(out, rec.robot.Snapshot())
	}
	return out
}

// StaleRobot pairs a robot ID with its in-flight jobs at the moment it
// was swept offline, for the dispatcher's robot-loss recovery.
type StaleRobot struct {
	RobotID string
	JobIDs  []string
}

// Sweep marks every robot whose last heartbeat is older than the
// registry's timeout as Offline and returns the set that transitioned,
// along with their in-flight job IDs. It does not itself recover those
// jobs — that is the dispatcher's job, run against the returned list.
func (r *Registry) Sweep(now time.Time) []StaleRobot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []StaleRobot
	for id, rec := range r.robots {
		if rec.robot.Status == domain.RobotOffline {
			continue
		}
		if now.Sub(rec.lastHeartbeat) <= r.timeout {
			continue
		}
		jobs := append([]string(nil), rec.robot.CurrentJobs...)
		rec.robot.MarkOffline()
		stale = append(stale, StaleRobot{RobotID: id, JobIDs: jobs})
		r.logger.Warn("robot heartbeat stale, marking offline", "robot_id", id, "last_heartbeat", rec.lastHeartbeat)
	}
	return stale
}

// Disconnect immediately marks robotID Offline, independent of the
// heartbeat-timeout sweep, for the protocol server's graceful-close path
// (spec.md §4.9: disconnect releases in-flight jobs right away rather
// than waiting up to heartbeat_timeout_seconds for the next sweep). It
// reports false if the robot was unknown or already Offline.
func (r *Registry) Disconnect(robotID string) (StaleRobot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.robots[robotID]
	if !ok || rec.robot.Status == domain.RobotOffline {
		return StaleRobot{}, false
	}
	jobs := append([]string(nil), rec.robot.CurrentJobs...)
	rec.robot.MarkOffline()
	r.logger.Info("robot disconnected, marking offline", "robot_id", robotID)
	return StaleRobot{RobotID: robotID, JobIDs: jobs}, true
}

// Run starts the periodic sweep loop; it blocks until ctx is cancelled.
// onStale is invoked (outside the registry's lock) for each sweep that
// finds stale robots, so the dispatcher can drive recovery.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onStale func([]StaleRobot)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if stale := r.Sweep(now); len(stale) > 0 && onStale != nil {
				onStale(stale)
			}
		}
	}
}
