package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	var row workflowRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: workflow %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return rowToWorkflow(&row), nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *domain.Workflow) error {
	return r.db.WithContext(ctx).Save(workflowToRow(workflow)).Error
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&workflowRow{}, "id = ?", id).Error
}
