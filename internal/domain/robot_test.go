package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotAssignJobRequiresOnline(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 2, nil)
	err := r.AssignJob("j1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRobotAssignJobAtCapacity(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 1, nil)
	r.MarkOnline(time.Now())

	require.NoError(t, r.AssignJob("j1"))
	assert.Equal(t, RobotBusy, r.Status, "robot flips to Busy exactly at max_concurrent_jobs")

	err := r.AssignJob("j2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestRobotAssignJobRejectsDuplicates(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 2, nil)
	r.MarkOnline(time.Now())
	require.NoError(t, r.AssignJob("j1"))

	err := r.AssignJob("j1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateAssignment)
}

func TestRobotCompleteJobReturnsToOnline(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 1, nil)
	r.MarkOnline(time.Now())
	require.NoError(t, r.AssignJob("j1"))
	require.Equal(t, RobotBusy, r.Status)

	require.NoError(t, r.CompleteJob("j1"))
	assert.Equal(t, RobotOnline, r.Status)
	assert.Empty(t, r.CurrentJobs)
}

func TestRobotInvariantHolds(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 2, []Capability{CapabilityBrowser})
	r.MarkOnline(time.Now())
	require.NoError(t, r.AssignJob("j1"))
	require.NoError(t, r.AssignJob("j2"))
	assert.NoError(t, r.InvariantHolds())
}

func TestRobotSnapshotIsIndependentCopy(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 2, []Capability{CapabilityBrowser})
	r.MarkOnline(time.Now())
	require.NoError(t, r.AssignJob("j1"))

	snap := r.Snapshot()
	require.NoError(t, r.AssignJob("j2"))

	assert.Len(t, snap.CurrentJobs, 1, "snapshot must not observe mutations made after it was taken")
	assert.Len(t, r.CurrentJobs, 2)
}

func TestRobotUtilization(t *testing.T) {
	r := NewRobot("r1", "Robot 1", "prod", 4, nil)
	r.MarkOnline(time.Now())
	require.NoError(t, r.AssignJob("j1"))
	assert.InDelta(t, 0.25, r.Utilization(), 1e-9)
}
