package triggerbus

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/repository"
)

var webhookValidate = validator.New()

// webhookRequest is the wire shape of spec.md §6.2's webhook body:
// {event_type, data, timestamp}. Decoded and structurally validated with
// go-playground/validator before Fire ever sees it.
type webhookRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Bus materializes Jobs from Trigger events. Webhook triggers route
// through HTTPHandler; file/external triggers call Fire directly from
// their own listener goroutines (no concrete file-watch backend is
// implemented here, but the entry point is the same Fire method).
type Bus struct {
	triggers  repository.TriggerRepository
	workflows repository.WorkflowRepository
	queue     *queue.Queue
	logger    *slog.Logger
	newID     func() string

	mu          sync.Mutex // guards each trigger's in-process rate limiter window
}

// New constructs a Bus.
func New(triggers repository.TriggerRepository, workflows repository.WorkflowRepository, q *queue.Queue, logger *slog.Logger) *Bus {
	return &Bus{triggers: triggers, workflows: workflows, queue: q, logger: logger, newID: uuid.NewString}
}

// FireResult communicates a trigger's outcome, mirrored into HTTP status
// codes by HTTPHandler.
type FireResult int

const (
	FireAccepted FireResult = iota
	FireCooldown
	FireFiltered
	FireUnknownTrigger
	FireDisabled
)

// Fire evaluates trigger with event, subject to its filter and cooldown,
// and enqueues a Job on success. On FireAccepted it returns the
// materialized job so callers (the webhook handler) can report its id.
func (b *Bus) Fire(ctx context.Context, triggerID string, event map[string]any, now time.Time) (FireResult, *domain.Job, error) {
	trig, err := b.triggers.Get(ctx, triggerID)
	if err != nil {
		return FireUnknownTrigger, nil, err
	}
	if !trig.Enabled {
		return FireDisabled, nil, nil
	}

	matched, err := EvaluateFilter(trig.FilterCEL, event)
	if err != nil {
		return FireFiltered, nil, err
	}
	if !matched {
		return FireFiltered, nil, nil
	}

	b.mu.Lock()
	allowed := trig.Allow(now)
	b.mu.Unlock()
	if !allowed {
		return FireCooldown, nil, nil
	}

	wf, err := b.workflows.Get(ctx, trig.WorkflowID)
	if err != nil {
		return FireUnknownTrigger, nil, fmt.Errorf("load workflow %s: %w", trig.WorkflowID, err)
	}
	if !wf.Executable() {
		return FireFiltered, nil, fmt.Errorf("workflow %s is not published", trig.WorkflowID)
	}

	job := domain.NewJob(b.newID(), trig.WorkflowID, wf.Definition, domain.PriorityNormal, "", now)
	job.Result = map[string]any{"trigger_event": event}
	if err := b.queue.Enqueue(job, now); err != nil {
		return FireFiltered, nil, fmt.Errorf("enqueue materialized job: %w", err)
	}

	if err := b.triggers.Save(ctx, trig); err != nil {
		b.logger.Error("failed to persist trigger rate-limiter state", "trigger_id", triggerID, "error", err)
	}
	return FireAccepted, job, nil
}

// HTTPHandler serves POST /webhook/{trigger_id}: 200 on acceptance, 429 in
// cooldown, 404 unknown trigger, 400 malformed payload or filter error,
// 401 on a shared-secret mismatch.
func (b *Bus) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		triggerID := triggerIDFromPath(r.URL.Path)
		if triggerID == "" {
			http.Error(w, "missing trigger id", http.StatusBadRequest)
			return
		}

		trig, err := b.triggers.Get(r.Context(), triggerID)
		if err != nil {
			http.Error(w, "unknown trigger", http.StatusNotFound)
			return
		}
		if trig.SharedSecret != "" {
			provided := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(trig.SharedSecret)) != 1 {
				http.Error(w, "invalid shared secret", http.StatusUnauthorized)
				return
			}
		}

		var req webhookRequest
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
				http.Error(w, "malformed payload", http.StatusBadRequest)
				return
			}
		}
		if req.EventType != "" {
			if err := webhookValidate.Struct(req); err != nil {
				http.Error(w, fmt.Sprintf("invalid payload: %s", err), http.StatusBadRequest)
				return
			}
		}
		event := req.Data
		if event == nil {
			event = map[string]any{}
		}
		if _, ok := event["event_type"]; !ok && req.EventType != "" {
			event["event_type"] = req.EventType
		}

		result, job, err := b.Fire(r.Context(), triggerID, event, time.Now())
		switch result {
		case FireAccepted:
			writeWebhookJSON(w, http.StatusOK, map[string]any{"status": "accepted", "job_id": job.ID})
		case FireCooldown:
			remaining := trig.CooldownRemaining(time.Now())
			w.Header().Set("Retry-After", remaining.String())
			writeWebhookJSON(w, http.StatusTooManyRequests, map[string]any{
				"status":             "rate_limited",
				"cooldown_remaining": remaining.Seconds(),
			})
		case FireDisabled, FireUnknownTrigger:
			writeWebhookJSON(w, http.StatusNotFound, map[string]any{"status": "not_found"})
		case FireFiltered:
			msg := "event did not pass filter"
			if err != nil {
				msg = err.Error()
			}
			writeWebhookJSON(w, http.StatusBadRequest, map[string]any{"status": "rejected", "message": msg})
		default:
			writeWebhookJSON(w, http.StatusInternalServerError, map[string]any{"status": "error"})
		}
	}
}

func writeWebhookJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func triggerIDFromPath(path string) string {
	const prefix = "/webhook/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return ""
	}
	return path[len(prefix):]
}
