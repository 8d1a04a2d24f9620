package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/domain"
)

func onlineRobot(id string, maxJobs int, caps ...domain.Capability) *domain.Robot {
	r := domain.NewRobot(id, id, "prod", maxJobs, caps)
	r.MarkOnline(time.Now())
	return r
}

func TestSelectNodeOverrideSpecificRobotWins(t *testing.T) {
	r1 := onlineRobot("r1", 2)
	r2 := onlineRobot("r2", 2)
	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		NodeID:     "n1",
		Robots:     []*domain.Robot{r1, r2},
		Overrides: []domain.NodeRobotOverride{
			{WorkflowID: "wf1", NodeID: "n1", RobotID: "r2", Active: true, Strict: true},
		},
	}
	d, err := Select(req)
	require.NoError(t, err)
	assert.Equal(t, "r2", d.RobotID)
	assert.Equal(t, "node_override", d.Reason)
}

func TestSelectStrictOverrideFailsWhenRobotUnavailable(t *testing.T) {
	r1 := onlineRobot("r1", 1)
	require.NoError(t, r1.AssignJob("existing")) // at capacity
	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		NodeID:     "n1",
		Robots:     []*domain.Robot{r1},
		Overrides: []domain.NodeRobotOverride{
			{WorkflowID: "wf1", NodeID: "n1", RobotID: "r1", Active: true, Strict: true},
		},
	}
	_, err := Select(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAvailableRobot)
}

func TestSelectWorkflowAssignmentWinsOverAutoSelection(t *testing.T) {
	r1 := onlineRobot("r1", 2)
	r2 := onlineRobot("r2", 2)
	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		Robots:     []*domain.Robot{r1, r2},
		Assignments: []domain.RobotAssignment{
			{WorkflowID: "wf1", RobotID: "r2", IsDefault: true},
		},
	}
	d, err := Select(req)
	require.NoError(t, err)
	assert.Equal(t, "r2", d.RobotID)
	assert.Equal(t, "workflow_assignment", d.Reason)
}

func TestSelectAutoSelectionPrefersLowerUtilization(t *testing.T) {
	busy := onlineRobot("busy", 2)
	require.NoError(t, busy.AssignJob("j0"))
	idle := onlineRobot("idle", 2)

	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		Robots:     []*domain.Robot{busy, idle},
	}
	d, err := Select(req)
	require.NoError(t, err)
	assert.Equal(t, "idle", d.RobotID)
	assert.Equal(t, "auto_selection", d.Reason)
}

func TestSelectAutoSelectionTieBreaksByStableID(t *testing.T) {
	r1 := onlineRobot("r1", 2)
	r2 := onlineRobot("r2", 2)
	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		Robots:     []*domain.Robot{r2, r1},
	}
	d, err := Select(req)
	require.NoError(t, err)
	assert.Equal(t, "r1", d.RobotID)
}

func TestSelectNoAvailableRobotWhenFleetEmpty(t *testing.T) {
	req := Request{Job: &domain.Job{}, WorkflowID: "wf1"}
	_, err := Select(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAvailableRobot)
}

func TestSelectTenantMismatchExcludesRobot(t *testing.T) {
	r1 := onlineRobot("r1", 2)
	r1.TenantID = "tenant-b"
	req := Request{
		Job:        &domain.Job{TenantID: "tenant-a"},
		WorkflowID: "wf1",
		Robots:     []*domain.Robot{r1},
	}
	_, err := Select(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAvailableRobot)
}

func TestSelectCapabilityFilterWithinNodeOverride(t *testing.T) {
	gpuRobot := onlineRobot("gpu1", 2, domain.CapabilityGpu)
	plainRobot := onlineRobot("plain1", 2)
	req := Request{
		Job:        &domain.Job{},
		WorkflowID: "wf1",
		NodeID:     "n1",
		Robots:     []*domain.Robot{gpuRobot, plainRobot},
		Overrides: []domain.NodeRobotOverride{
			{
				WorkflowID:           "wf1",
				NodeID:               "n1",
				Active:               true,
				RequiredCapabilities: map[domain.Capability]bool{domain.CapabilityGpu: true},
			},
		},
	}
	d, err := Select(req)
	require.NoError(t, err)
	assert.Equal(t, "gpu1", d.RobotID)
}
