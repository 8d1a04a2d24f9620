package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type RobotRepository struct {
	mu     sync.RWMutex
	robots map[string]*domain.Robot
}

func NewRobotRepository() *RobotRepository {
	return &RobotRepository{robots: make(map[string]*domain.Robot)}
}

func (r *RobotRepository) Get(_ context.Context, id string) (*domain.Robot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	robot, ok := r.robots[id]
	if !ok {
		return nil, fmt.Errorf("%w: robot %s", domain.ErrNotFound, id)
	}
	return robot.Snapshot(), nil
}

func (r *RobotRepository) Save(_ context.Context, robot *domain.Robot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.robots[robot.ID] = robot.Snapshot()
	return nil
}

func (r *RobotRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.robots, id)
	return nil
}

func (r *RobotRepository) All(_ context.Context) ([]*domain.Robot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Robot, 0, len(r.robots))
	for _, robot := range r.robots {
		out = append(out, robot.Snapshot())
	}
	return out, nil
}
