package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type AuditRepository struct {
	mu     sync.RWMutex
	events []*domain.AuditEvent
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Save(_ context.Context, event *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *AuditRepository) ByTarget(_ context.Context, targetType, targetID string) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditEvent
	for _, e := range r.events {
		if e.TargetType == targetType && e.TargetID == targetID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Recent returns the most recently saved events, newest first, capped at
// limit (0 or negative returns everything).
func (r *AuditRepository) Recent(_ context.Context, limit int) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.AuditEvent, len(r.events))
	for i, e := range r.events {
		cp := *e
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
