// Package repository defines the abstract persistence ports the core
// consumes. Concrete adapters live in the memory and sqlite
// subpackages; the core never imports them directly.
package repository

import (
	"context"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// JobRepository persists Job entities.
type JobRepository interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	Save(ctx context.Context, job *domain.Job) error
	Delete(ctx context.Context, id string) error
	ByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error)
	ByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error)
}

// RobotRepository persists Robot entities.
type RobotRepository interface {
	Get(ctx context.Context, id string) (*domain.Robot, error)
	Save(ctx context.Context, robot *domain.Robot) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]*domain.Robot, error)
}

// ScheduleRepository persists Schedule entities.
type ScheduleRepository interface {
	Get(ctx context.Context, id string) (*domain.Schedule, error)
	Save(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id string) error
	Enabled(ctx context.Context) ([]*domain.Schedule, error)
}

// WorkflowRepository persists Workflow entities.
type WorkflowRepository interface {
	Get(ctx context.Context, id string) (*domain.Workflow, error)
	Save(ctx context.Context, workflow *domain.Workflow) error
	Delete(ctx context.Context, id string) error
}

// TriggerRepository persists Trigger entities.
type TriggerRepository interface {
	Get(ctx context.Context, id string) (*domain.Trigger, error)
	Save(ctx context.Context, trigger *domain.Trigger) error
	Delete(ctx context.Context, id string) error
	Enabled(ctx context.Context) ([]*domain.Trigger, error)
}

// AssignmentRepository persists RobotAssignment and NodeRobotOverride
// value objects.
type AssignmentRepository interface {
	AssignmentsForWorkflow(ctx context.Context, workflowID string) ([]domain.RobotAssignment, error)
	SaveAssignment(ctx context.Context, a domain.RobotAssignment) error
	DeleteAssignment(ctx context.Context, workflowID, robotID string) error

	OverridesForWorkflow(ctx context.Context, workflowID string) ([]domain.NodeRobotOverride, error)
	SaveOverride(ctx context.Context, o domain.NodeRobotOverride) error
	DeleteOverride(ctx context.Context, workflowID, nodeID string) error
}

// AuditRepository persists AuditEvent records. Append-only: there is
// deliberately no Delete.
type AuditRepository interface {
	Save(ctx context.Context, event *domain.AuditEvent) error
	ByTarget(ctx context.Context, targetType, targetID string) ([]*domain.AuditEvent, error)
	Recent(ctx context.Context, limit int) ([]*domain.AuditEvent, error)
}
