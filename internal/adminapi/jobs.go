package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/domain"
)

// submitJobRequest is the wire shape for POST /admin/jobs.
type submitJobRequest struct {
	WorkflowID      string         `json:"workflow_id" validate:"required"`
	Priority        string         `json:"priority"`
	IdempotencyKey  string         `json:"idempotency_key"`
	TargetRobotID   string         `json:"target_robot_id"`
	ScheduledStart  *time.Time     `json:"scheduled_start"`
	InputParameters map[string]any `json:"input_parameters"`
}

func parsePriority(s string) domain.Priority {
	switch s {
	case "low":
		return domain.PriorityLow
	case "high":
		return domain.PriorityHigh
	case "critical":
		return domain.PriorityCritical
	default:
		return domain.PriorityNormal
	}
}

// handleSubmitJob enqueues a new Job against a published Workflow.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf, err := s.workflows.Get(r.Context(), req.WorkflowID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !wf.Executable() {
		writeError(w, http.StatusConflict, "workflow is not published")
		return
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.jobs.ByIdempotencyKey(r.Context(), req.IdempotencyKey); err == nil {
			// spec.md §4.5/§8: a resubmission with the same idempotency key
			// while the original is still non-terminal yields the single
			// already-accepted job rather than a second one.
			writeJSON(w, http.StatusOK, existing)
			return
		}
	}

	now := s.clock()
	job := domain.NewJob(s.newID(), req.WorkflowID, wf.Definition, parsePriority(req.Priority), req.IdempotencyKey, now)
	job.TargetRobotID = req.TargetRobotID
	job.ScheduledStart = req.ScheduledStart
	if req.InputParameters != nil {
		job.Result["input_parameters"] = req.InputParameters
	}

	if err := s.queue.Enqueue(job, now); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.jobs.Save(r.Context(), job); err != nil {
		s.logger.Error("persist submitted job failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist job")
		return
	}

	s.audit.Record(r.Context(), domain.AuditJobSubmitted, authjwt.Subject(r), "job", job.ID, "")
	s.changes.Publish(changestream.Event{Type: changestream.EventJobUpdated, Payload: job})
	s.dispatcher.Wake()

	writeJSON(w, http.StatusCreated, job)
}

// jobListStatuses enumerates every Status value, since JobRepository
// exposes ByStatus rather than a blanket list-all.
var jobListStatuses = []domain.Status{
	domain.StatusPending, domain.StatusQueued, domain.StatusRunning,
	domain.StatusCompleted, domain.StatusFailed, domain.StatusTimeout, domain.StatusCancelled,
}

// handleListJobs returns every Job, optionally filtered by ?status=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	statuses := jobListStatuses
	if q := r.URL.Query().Get("status"); q != "" {
		for _, st := range jobListStatuses {
			if st.String() == q {
				statuses = []domain.Status{st}
				break
			}
		}
	}

	var out []*domain.Job
	for _, st := range statuses {
		jobs, err := s.jobs.ByStatus(r.Context(), st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, jobs...)
	}
	writeJSON(w, http.StatusOK, out)
}

type cancelJobRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

// handleCancelJob requests cancellation of a Job. force skips the
// send-and-wait grace period and releases robot capacity immediately.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var req cancelJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}

	now := s.clock()
	var err error
	if req.Force {
		err = s.dispatcher.ForceCancel(r.Context(), jobID, now)
	} else {
		err = s.dispatcher.CancelJob(r.Context(), jobID, now)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.audit.Record(r.Context(), domain.AuditJobCancelled, authjwt.Subject(r), "job", jobID, req.Reason)
	s.changes.Publish(changestream.Event{Type: changestream.EventJobUpdated, Payload: job})

	writeJSON(w, http.StatusOK, job)
}
