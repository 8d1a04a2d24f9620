// Package audit records administrative actions taken through the Admin
// API as durable AuditEvent entries, for operator accountability. Not
// part of the core dispatch/selection path: callers invoke Record
// synchronously after the underlying mutation succeeds.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/repository"
)

// Recorder writes AuditEvents through a repository.AuditRepository,
// minting IDs and timestamps so callers only supply the action itself.
type Recorder struct {
	repo   repository.AuditRepository
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New constructs a Recorder. newID/now default to uuid.NewString/time.Now
// if nil, overridable for deterministic tests.
func New(repo repository.AuditRepository, logger *slog.Logger, newID func() string, now func() time.Time) *Recorder {
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{repo: repo, logger: logger.With("component", "audit"), newID: newID, now: now}
}

// Record persists an AuditEvent for the given action. Errors are logged
// rather than returned: a failed audit write must never block or roll
// back the administrative action it describes.
func (r *Recorder) Record(ctx context.Context, action domain.AuditAction, actor, targetType, targetID, reason string) {
	event := &domain.AuditEvent{
		ID:         r.newID(),
		Action:     action,
		Actor:      actor,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     reason,
		Timestamp:  r.now(),
	}
	if err := r.repo.Save(ctx, event); err != nil {
		r.logger.Error("audit write failed", "action", action.String(), "target_type", targetType, "target_id", targetID, "error", err)
	}
}
