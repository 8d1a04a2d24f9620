package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/domain"
)

type triggerRequest struct {
	Name           string `json:"name" validate:"required"`
	Kind           string `json:"kind" validate:"required"`
	WorkflowID     string `json:"workflow_id" validate:"required"`
	FilterCEL      string `json:"filter_cel"`
	SharedSecret   string `json:"shared_secret"`
	CooldownWindow string `json:"cooldown_window"`
	MaxPerWindow   int    `json:"max_per_window" validate:"min=1"`
	Enabled        bool   `json:"enabled"`
}

func parseTriggerKind(s string) domain.TriggerKind {
	switch s {
	case "file":
		return domain.TriggerFile
	case "external":
		return domain.TriggerExternal
	default:
		return domain.TriggerWebhook
	}
}

// handleCreateTrigger registers a new Trigger.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
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

	cooldown, err := time.ParseDuration(req.CooldownWindow)
	if err != nil {
		cooldown = time.Minute
	}

	trig := &domain.Trigger{
		ID:             s.newID(),
		Name:           req.Name,
		Kind:           parseTriggerKind(req.Kind),
		WorkflowID:     req.WorkflowID,
		FilterCEL:      req.FilterCEL,
		SharedSecret:   req.SharedSecret,
		CooldownWindow: cooldown,
		MaxPerWindow:   req.MaxPerWindow,
		Enabled:        req.Enabled,
	}
	if err := s.triggers.Save(r.Context(), trig); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.audit.Record(r.Context(), domain.AuditTriggerCreated, authjwt.Subject(r), "trigger", trig.ID, "")

	writeJSON(w, http.StatusCreated, trig)
}

// handleUpdateTrigger replaces a Trigger's filter/cooldown/enabled
// configuration in place; the in-flight rate-limiter window is left
// untouched since it's entity-internal bookkeeping, not client-settable.
func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trig, err := s.triggers.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cooldown, err := time.ParseDuration(req.CooldownWindow)
	if err != nil {
		cooldown = trig.CooldownWindow
	}

	trig.Name = req.Name
	trig.Kind = parseTriggerKind(req.Kind)
	trig.WorkflowID = req.WorkflowID
	trig.FilterCEL = req.FilterCEL
	trig.SharedSecret = req.SharedSecret
	trig.CooldownWindow = cooldown
	trig.MaxPerWindow = req.MaxPerWindow
	trig.Enabled = req.Enabled

	if err := s.triggers.Save(r.Context(), trig); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.audit.Record(r.Context(), domain.AuditTriggerUpdated, authjwt.Subject(r), "trigger", trig.ID, "")

	writeJSON(w, http.StatusOK, trig)
}
