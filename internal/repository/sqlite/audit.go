package sqlite

import (
	"context"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Save(ctx context.Context, event *domain.AuditEvent) error {
	return r.db.WithContext(ctx).Create(auditToRow(event)).Error
}

func (r *AuditRepository) ByTarget(ctx context.Context, targetType, targetID string) ([]*domain.AuditEvent, error) {
	var rows []auditRow
	if err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("timestamp desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rowToAudit(&rows[i]))
	}
	return out, nil
}

func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	q := r.db.WithContext(ctx).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rowToAudit(&rows[i]))
	}
	return out, nil
}
