package sqlite

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type AssignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) AssignmentsForWorkflow(ctx context.Context, workflowID string) ([]domain.RobotAssignment, error) {
	var rows []assignmentRow
	if err := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RobotAssignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToAssignment(row))
	}
	return out, nil
}

func (r *AssignmentRepository) SaveAssignment(ctx context.Context, a domain.RobotAssignment) error {
	row := assignmentToRow(a)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *AssignmentRepository) DeleteAssignment(ctx context.Context, workflowID, robotID string) error {
	return r.db.WithContext(ctx).Delete(&assignmentRow{}, "workflow_id = ? AND robot_id = ?", workflowID, robotID).Error
}

func (r *AssignmentRepository) OverridesForWorkflow(ctx context.Context, workflowID string) ([]domain.NodeRobotOverride, error) {
	var rows []overrideRow
	if err := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.NodeRobotOverride, 0, len(rows))
	for _, row := range rows {
		o, err := rowToOverride(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *AssignmentRepository) SaveOverride(ctx context.Context, o domain.NodeRobotOverride) error {
	row, err := overrideToRow(o)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *AssignmentRepository) DeleteOverride(ctx context.Context, workflowID, nodeID string) error {
	return r.db.WithContext(ctx).Delete(&overrideRow{}, "workflow_id = ? AND node_id = ?", workflowID, nodeID).Error
}
