package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type RobotRepository struct {
	db *gorm.DB
}

func NewRobotRepository(db *gorm.DB) *RobotRepository {
	return &RobotRepository{db: db}
}

func (r *RobotRepository) Get(ctx context.Context, id string) (*domain.Robot, error) {
	var row robotRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: robot %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return rowToRobot(&row)
}

func (r *RobotRepository) Save(ctx context.Context, robot *domain.Robot) error {
	row, err := robotToRow(robot)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(row).Error
}

func (r *RobotRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&robotRow{}, "id = ?", id).Error
}

func (r *RobotRepository) All(ctx context.Context) ([]*domain.Robot, error) {
	var rows []robotRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Robot, 0, len(rows))
	for i := range rows {
		robot, err := rowToRobot(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, robot)
	}
	return out, nil
}
