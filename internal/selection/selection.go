// Package selection implements the robot selection algorithm as a pure
// function: no I/O, no clock, no shared state. It takes a point-in-time
// view of the fleet (as produced by the registry's snapshot) and returns
// a decision from a scored, capability-aware candidate set.
package selection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// Request bundles everything the selection algorithm needs to pick a
// robot for one job. NodeID is empty when selecting for workflow
// submission rather than a specific node within a running workflow.
// Environment is optional; when set it feeds the "environment tags
// match" scoring term against each candidate's Robot.Environment.
type Request struct {
	Job         *domain.Job
	WorkflowID  string
	NodeID      string
	Environment string
	Robots      []*domain.Robot // fleet snapshot; never mutated
	Assignments []domain.RobotAssignment
	Overrides   []domain.NodeRobotOverride
}

// Decision is the selection outcome.
type Decision struct {
	RobotID string
	Score   float64
	Reason  string // "node_override" | "workflow_assignment" | "auto_selection"
}

const (
	scoreHasCapacity        = 100
	scorePreAssigned        = 50
	scorePerCapabilityMatch = 20
	scoreUtilizationWeight  = 30
	scoreEnvironmentMatch   = 10
)

// Select runs the priority-order algorithm: active node override, then
// workflow-level default assignment, then scored auto-selection within
// the capability-filtered eligible set. It never mutates req.Robots.
func Select(req Request) (Decision, error) {
	eligible := tenantFilter(req.Robots, req.Job.TenantID)
	var requiredCaps map[domain.Capability]bool

	if req.NodeID != "" {
		if ov, ok := findActiveOverride(req.Overrides, req.WorkflowID, req.NodeID); ok {
			if ov.HasSpecificRobot() {
				robot := findRobot(eligible, ov.RobotID)
				if robot == nil || !isSelectable(robot) {
					if ov.Strict {
						return Decision{}, fmt.Errorf("%w: node override robot %s unavailable for node %s", domain.ErrNoAvailableRobot, ov.RobotID, req.NodeID)
					}
					// Non-strict: fall through to auto-selection below,
					// still scoped to this override's capability filter
					// if one was also provided.
				} else {
					return Decision{RobotID: robot.ID, Score: 0, Reason: "node_override"}, nil
				}
			}
			if len(ov.RequiredCapabilities) > 0 {
				requiredCaps = ov.RequiredCapabilities
				eligible = filterByCapabilities(eligible, requiredCaps)
			}
		}
	}

	if d, ok := findWorkflowAssignment(eligible, req.Assignments, req.WorkflowID); ok {
		return d, nil
	}

	return autoSelect(eligible, req.WorkflowID, req.Environment, requiredCaps, req.Assignments)
}

func tenantFilter(robots []*domain.Robot, tenantID string) []*domain.Robot {
	if tenantID == "" {
		return robots
	}
	out := make([]*domain.Robot, 0, len(robots))
	for _, r := range robots {
		if r.TenantID == "" || r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

func isSelectable(r *domain.Robot) bool {
	return (r.Status == domain.RobotOnline || r.Status == domain.RobotBusy) && r.HasCapacity()
}

func findRobot(robots []*domain.Robot, id string) *domain.Robot {
	for _, r := range robots {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func findActiveOverride(overrides []domain.NodeRobotOverride, workflowID, nodeID string) (domain.NodeRobotOverride, bool) {
	for _, o := range overrides {
		if o.Active && o.WorkflowID == workflowID && o.NodeID == nodeID {
			return o, true
		}
	}
	return domain.NodeRobotOverride{}, false
}

func filterByCapabilities(robots []*domain.Robot, required map[domain.Capability]bool) []*domain.Robot {
	out := make([]*domain.Robot, 0, len(robots))
	for _, r := range robots {
		if hasAllCapabilities(r, required) {
			out = append(out, r)
		}
	}
	return out
}

func hasAllCapabilities(r *domain.Robot, required map[domain.Capability]bool) bool {
	for cap, need := range required {
		if need && !r.HasCapability(cap) {
			return false
		}
	}
	return true
}

func findWorkflowAssignment(robots []*domain.Robot, assignments []domain.RobotAssignment, workflowID string) (Decision, bool) {
	var best *domain.RobotAssignment
	for i := range assignments {
		a := assignments[i]
		if a.WorkflowID != workflowID || !a.IsDefault {
			continue
		}
		if best == nil || a.Priority > best.Priority {
			cp := a
			best = &cp
		}
	}
	if best == nil {
		return Decision{}, false
	}
	robot := findRobot(robots, best.RobotID)
	if robot == nil || !isSelectable(robot) {
		return Decision{}, false
	}
	return Decision{RobotID: robot.ID, Score: 0, Reason: "workflow_assignment"}, true
}

func autoSelect(robots []*domain.Robot, workflowID, environment string, requiredCaps map[domain.Capability]bool, assignments []domain.RobotAssignment) (Decision, error) {
	preAssigned := make(map[string]bool)
	for _, a := range assignments {
		if a.WorkflowID == workflowID {
			preAssigned[a.RobotID] = true
		}
	}

	type candidate struct {
		robot       *domain.Robot
		score       float64
		utilization float64
	}

	var candidates []candidate
	for _, r := range robots {
		if r.Status != domain.RobotOnline && r.Status != domain.RobotBusy {
			continue
		}
		score := 0.0
		if r.HasCapacity() {
			score += scoreHasCapacity
		} else {
			continue // no capacity, no candidacy
		}
		if preAssigned[r.ID] {
			score += scorePreAssigned
		}
		for cap, need := range requiredCaps {
			if need && r.HasCapability(cap) {
				score += scorePerCapabilityMatch
			}
		}
		util := r.Utilization()
		score += scoreUtilizationWeight * (1 - util)
		if environment != "" && r.Environment == environment {
			score += scoreEnvironmentMatch
		}
		candidates = append(candidates, candidate{robot: r, score: score, utilization: util})
	}

	if len(candidates) == 0 {
		return Decision{}, fmt.Errorf("%w: no eligible robot for workflow %s", domain.ErrNoAvailableRobot, workflowID)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].utilization != candidates[j].utilization {
			return candidates[i].utilization < candidates[j].utilization
		}
		return candidates[i].robot.ID < candidates[j].robot.ID
	})

	winner := candidates[0]
	return Decision{RobotID: winner.robot.ID, Score: winner.score, Reason: "auto_selection"}, nil
}

// SelectForCapabilities is a convenience entry for node overrides that
// name only a capability set (no concrete robot): it scores within the
// filtered subset using the same auto-selection weights.
func SelectForCapabilities(robots []*domain.Robot, workflowID, environment string, required map[domain.Capability]bool, assignments []domain.RobotAssignment) (Decision, error) {
	filtered := filterByCapabilities(robots, required)
	if len(filtered) == 0 {
		return Decision{}, errors.New("selection: capability filter eliminated all robots")
	}
	return autoSelect(filtered, workflowID, environment, required, assignments)
}
