package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type TriggerRepository struct {
	mu       sync.RWMutex
	triggers map[string]*domain.Trigger
}

func NewTriggerRepository() *TriggerRepository {
	return &TriggerRepository{triggers: make(map[string]*domain.Trigger)}
}

func (r *TriggerRepository) Get(_ context.Context, id string) (*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[id]
	if !ok {
		return nil, fmt.Errorf("%w: trigger %s", domain.ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (r *TriggerRepository) Save(_ context.Context, trigger *domain.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *trigger
	r.triggers[trigger.ID] = &cp
	return nil
}

func (r *TriggerRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triggers, id)
	return nil
}

func (r *TriggerRepository) Enabled(_ context.Context) ([]*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Trigger
	for _, t := range r.triggers {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
