package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	var row scheduleRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: schedule %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return rowToSchedule(&row), nil
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *domain.Schedule) error {
	return r.db.WithContext(ctx).Save(scheduleToRow(schedule)).Error
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&scheduleRow{}, "id = ?", id).Error
}

func (r *ScheduleRepository) Enabled(ctx context.Context) ([]*domain.Schedule, error) {
	var rows []scheduleRow
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Schedule, 0, len(rows))
	for i := range rows {
		out = append(out, rowToSchedule(&rows[i]))
	}
	return out, nil
}
