// Package scheduler materializes Jobs from enabled Schedules on a tick,
// the time-based counterpart to the Trigger Bus's event-based
// materialization. The teacher has no cron component of its own; cron
// expression parsing here is borrowed from the wider reference pack
// (robfig/cron/v3, an indirect dependency of the tinkerbell-tinkerbell
// example), used only for its Parser — the tick loop itself is plain,
// in the teacher's ticker-driven-loop style (cluster-gateway/server.go's
// pingTicker).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/repository"
)

// DefaultTick matches spec.md §4.6's default loop interval.
const DefaultTick = 1 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler ticks over enabled schedules, materializing a Job for each
// one whose NextRun has arrived.
type Scheduler struct {
	schedules repository.ScheduleRepository
	workflows repository.WorkflowRepository
	queue     *queue.Queue
	logger    *slog.Logger
	newID     func() string
}

// New constructs a Scheduler. newID defaults to uuid.NewString if nil,
// overridable for deterministic tests.
func New(schedules repository.ScheduleRepository, workflows repository.WorkflowRepository, q *queue.Queue, logger *slog.Logger, newID func() string) *Scheduler {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Scheduler{schedules: schedules, workflows: workflows, queue: q, logger: logger, newID: newID}
}

// Run blocks ticking at the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick materializes Jobs for every enabled schedule whose next_run has
// arrived. Catch-up policy (spec.md §4.6): regardless of how many
// fire-times elapsed while the orchestrator was down, at most one Job is
// emitted per schedule per Tick call.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	schedules, err := s.schedules.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled schedules: %w", err)
	}
	for _, sched := range schedules {
		if sched.NextRun == nil || sched.NextRun.After(now) {
			continue
		}
		if err := s.fire(ctx, sched, now); err != nil {
			s.logger.Error("schedule fire failed", "schedule_id", sched.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	wf, err := s.workflows.Get(ctx, sched.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", sched.WorkflowID, err)
	}
	if !wf.Executable() {
		return fmt.Errorf("workflow %s is not published", sched.WorkflowID)
	}

	job := domain.NewJob(s.newID(), sched.WorkflowID, wf.Definition, sched.DefaultPriority, "", now)
	job.TargetRobotID = sched.FixedRobotID
	if err := s.queue.Enqueue(job, now); err != nil {
		sched.RecordFire(now, NextRun(sched, now), false)
		if saveErr := s.schedules.Save(ctx, sched); saveErr != nil {
			s.logger.Error("failed to persist schedule after failed fire", "schedule_id", sched.ID, "error", saveErr)
		}
		return fmt.Errorf("enqueue materialized job: %w", err)
	}

	sched.RecordFire(now, NextRun(sched, now), true)
	return s.schedules.Save(ctx, sched)
}

// NextRun computes the next fire time for a Schedule's frequency,
// respecting its timezone for the calendar-based frequencies.
func NextRun(sched *domain.Schedule, from time.Time) *time.Time {
	loc := time.UTC
	if sched.Timezone != "" {
		if l, err := time.LoadLocation(sched.Timezone); err == nil {
			loc = l
		}
	}
	local := from.In(loc)

	var next time.Time
	switch sched.Frequency {
	case domain.FrequencyOnce:
		return nil
	case domain.FrequencyHourly:
		next = local.Truncate(time.Hour).Add(time.Hour)
	case domain.FrequencyDaily:
		next = time.Date(local.Year(), local.Month(), local.Day()+1, local.Hour(), local.Minute(), 0, 0, loc)
	case domain.FrequencyWeekly:
		next = time.Date(local.Year(), local.Month(), local.Day()+7, local.Hour(), local.Minute(), 0, 0, loc)
	case domain.FrequencyMonthly:
		next = time.Date(local.Year(), local.Month()+1, local.Day(), local.Hour(), local.Minute(), 0, 0, loc)
	case domain.FrequencyCron:
		schedule, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return nil
		}
		next = schedule.Next(local)
	default:
		return nil
	}
	utc := next.UTC()
	return &utc
}
