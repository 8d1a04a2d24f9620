package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type TriggerRepository struct {
	db *gorm.DB
}

func NewTriggerRepository(db *gorm.DB) *TriggerRepository {
	return &TriggerRepository{db: db}
}

func (r *TriggerRepository) Get(ctx context.Context, id string) (*domain.Trigger, error) {
	var row triggerRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: trigger %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return rowToTrigger(&row), nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *domain.Trigger) error {
	return r.db.WithContext(ctx).Save(triggerToRow(trigger)).Error
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&triggerRow{}, "id = ?", id).Error
}

func (r *TriggerRepository) Enabled(ctx context.Context) ([]*domain.Trigger, error) {
	var rows []triggerRow
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Trigger, 0, len(rows))
	for i := range rows {
		out = append(out, rowToTrigger(&rows[i]))
	}
	return out, nil
}
