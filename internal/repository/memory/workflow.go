package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
}

func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{workflows: make(map[string]*domain.Workflow)}
}

func (r *WorkflowRepository) Get(_ context.Context, id string) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *workflow
	r.workflows[workflow.ID] = &cp
	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, id)
	return nil
}
