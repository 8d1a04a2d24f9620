package memory

import (
	"context"
	"sync"

	"github.com/casarerpa/orchestrator/internal/domain"
)

type assignmentKey struct {
	workflowID string
	robotID    string
}

type overrideKey struct {
	workflowID string
	nodeID     string
}

// AssignmentRepository holds RobotAssignment and NodeRobotOverride value
// objects keyed by their natural composite identity.
type AssignmentRepository struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]domain.RobotAssignment
	overrides   map[overrideKey]domain.NodeRobotOverride
}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{
		assignments: make(map[assignmentKey]domain.RobotAssignment),
		overrides:   make(map[overrideKey]domain.NodeRobotOverride),
	}
}

func (r *AssignmentRepository) AssignmentsForWorkflow(_ context.Context, workflowID string) ([]domain.RobotAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RobotAssignment
	for k, a := range r.assignments {
		if k.workflowID == workflowID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AssignmentRepository) SaveAssignment(_ context.Context, a domain.RobotAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[assignmentKey{a.WorkflowID, a.RobotID}] = a
	return nil
}

func (r *AssignmentRepository) DeleteAssignment(_ context.Context, workflowID, robotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, assignmentKey{workflowID, robotID})
	return nil
}

func (r *AssignmentRepository) OverridesForWorkflow(_ context.Context, workflowID string) ([]domain.NodeRobotOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.NodeRobotOverride
	for k, o := range r.overrides {
		if k.workflowID == workflowID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *AssignmentRepository) SaveOverride(_ context.Context, o domain.NodeRobotOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[overrideKey{o.WorkflowID, o.NodeID}] = o
	return nil
}

func (r *AssignmentRepository) DeleteOverride(_ context.Context, workflowID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, overrideKey{workflowID, nodeID})
	return nil
}
