package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type ScheduleRepository struct {
	mu        sync.RWMutex
	schedules map[string]*domain.Schedule
}

func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{schedules: make(map[string]*domain.Schedule)}
}

func (r *ScheduleRepository) Get(_ context.Context, id string) (*domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %s", domain.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r *ScheduleRepository) Save(_ context.Context, schedule *domain.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *schedule
	r.schedules[schedule.ID] = &cp
	return nil
}

func (r *ScheduleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, id)
	return nil
}

func (r *ScheduleRepository) Enabled(_ context.Context) ([]*domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Schedule
	for _, s := range r.schedules {
		if s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
