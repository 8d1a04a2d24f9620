// Package memory implements the repository ports with plain mutex-guarded
// maps. It backs the test suite (serve always uses the SQLite adapter), with write-through
// semantics that an in-process map trivially satisfies (the write
// completes before Save returns).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*domain.Job)}
}

func (r *JobRepository) Get(_ context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	cp := *j
	return &cp, nil
}

func (r *JobRepository) Save(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *JobRepository) ByStatus(_ context.Context, status domain.Status) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *JobRepository) ByIdempotencyKey(_ context.Context, key string) (*domain.Job, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty idempotency key", domain.ErrNotFound)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		if j.IdempotencyKey == key && !j.Status.IsTerminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: idempotency key %s", domain.ErrNotFound, key)
}
