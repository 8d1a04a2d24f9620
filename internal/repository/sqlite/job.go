package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return rowToJob(&row)
}

func (r *JobRepository) Save(ctx context.Context, job *domain.Job) error {
	row, err := jobToRow(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(row).Error
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&jobRow{}, "id = ?", id).Error
}

func (r *JobRepository) ByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error) {
	var rows []jobRow
	if err := r.db.WithContext(ctx).Where("status = ?", int(status)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		j, err := rowToJob(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepository) ByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty idempotency key", domain.ErrNotFound)
	}
	var rows []jobRow
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if !domain.Status(rows[i].Status).IsTerminal() {
			return rowToJob(&rows[i])
		}
	}
	return nil, fmt.Errorf("%w: idempotency key %s", domain.ErrNotFound, key)
}
