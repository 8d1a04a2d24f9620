package domain

import "time"

// RobotAssignment is an immutable workflow -> default robot binding.
type RobotAssignment struct {
	WorkflowID string
	RobotID    string
	Priority   int // tiebreak among multiple assignments for a workflow
	IsDefault  bool
	CreatedAt  time.Time
}

// NodeRobotOverride is an immutable per-node override within a workflow:
// either a specific robot, or a required-capability set.
type NodeRobotOverride struct {
	WorkflowID           string
	NodeID               string
	RobotID              string // set if this is a specific-robot override
	RequiredCapabilities map[Capability]bool
	Strict               bool // if true and RobotID is unavailable, selection fails rather than falling through
	Active               bool
}

// HasSpecificRobot reports whether this override names a concrete robot
// rather than only a capability filter.
func (o *NodeRobotOverride) HasSpecificRobot() bool {
	return o.RobotID != ""
}
