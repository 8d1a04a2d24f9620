package adminapi

import (
	"encoding/json"
	"net/http"

	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/scheduler"
)

// handleListSchedules returns every enabled schedule. Disabled schedules
// are reachable individually via their last known state in the change
// stream, matching the teacher's pattern of listing only actionable
// resources by default.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.Enabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

type scheduleRequest struct {
	Name            string `json:"name" validate:"required"`
	WorkflowID      string `json:"workflow_id" validate:"required"`
	FixedRobotID    string `json:"fixed_robot_id"`
	Frequency       string `json:"frequency" validate:"required"`
	CronExpr        string `json:"cron_expr"`
	Timezone        string `json:"timezone"`
	DefaultPriority string `json:"default_priority"`
}

func parseFrequency(s string) domain.Frequency {
	switch s {
	case "hourly":
		return domain.FrequencyHourly
	case "daily":
		return domain.FrequencyDaily
	case "weekly":
		return domain.FrequencyWeekly
	case "monthly":
		return domain.FrequencyMonthly
	case "cron":
		return domain.FrequencyCron
	default:
		return domain.FrequencyOnce
	}
}

// handleCreateSchedule registers a new Schedule, enabled from creation,
// with its first NextRun computed immediately so the Scheduler's next
// tick can pick it up.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.workflows.Get(r.Context(), req.WorkflowID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	sched := &domain.Schedule{
		ID:              s.newID(),
		Name:            req.Name,
		WorkflowID:      req.WorkflowID,
		FixedRobotID:    req.FixedRobotID,
		Frequency:       parseFrequency(req.Frequency),
		CronExpr:        req.CronExpr,
		Timezone:        req.Timezone,
		Enabled:         true,
		DefaultPriority: parsePriority(req.DefaultPriority),
	}
	sched.NextRun = scheduler.NextRun(sched, s.clock())

	if err := s.schedules.Save(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.audit.Record(r.Context(), domain.AuditScheduleCreated, authjwt.Subject(r), "schedule", sched.ID, "")
	s.changes.Publish(changestream.Event{Type: changestream.EventScheduleUpdated, Payload: sched})

	writeJSON(w, http.StatusCreated, sched)
}

// handleUpdateSchedule replaces a Schedule's workflow/frequency
// configuration, recomputing NextRun from the new frequency. Run/success
// bookkeeping is left untouched.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched.Name = req.Name
	sched.WorkflowID = req.WorkflowID
	sched.FixedRobotID = req.FixedRobotID
	sched.Frequency = parseFrequency(req.Frequency)
	sched.CronExpr = req.CronExpr
	sched.Timezone = req.Timezone
	sched.DefaultPriority = parsePriority(req.DefaultPriority)
	sched.NextRun = scheduler.NextRun(sched, s.clock())

	if err := s.schedules.Save(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.audit.Record(r.Context(), domain.AuditScheduleUpdated, authjwt.Subject(r), "schedule", sched.ID, "")
	s.changes.Publish(changestream.Event{Type: changestream.EventScheduleUpdated, Payload: sched})

	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request, enable bool, action domain.AuditAction) {
	id := r.PathValue("id")
	sched, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if enable {
		sched.Enable()
		sched.NextRun = scheduler.NextRun(sched, s.clock())
	} else {
		sched.Disable()
	}
	if err := s.schedules.Save(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.audit.Record(r.Context(), action, authjwt.Subject(r), "schedule", sched.ID, "")
	s.changes.Publish(changestream.Event{Type: changestream.EventScheduleUpdated, Payload: sched})

	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, true, domain.AuditScheduleEnabled)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, false, domain.AuditScheduleDisabled)
}
