// Package domain holds the orchestrator's entities and the state-machine
// invariants they enforce. Mutator methods are the only legal way to
// change an entity's state; every other component consumes these through
// the methods below rather than mutating fields directly.
package domain

import "errors"

// Sentinel domain errors. Callers match with errors.Is; the dispatcher
// branches its rollback logic on these.
var (
	ErrInvalidTransition   = errors.New("domain: invalid state transition")
	ErrAtCapacity          = errors.New("domain: robot at capacity")
	ErrDuplicateAssignment = errors.New("domain: duplicate job assignment")
	ErrNotFound            = errors.New("domain: not found")
	ErrInvariantViolation  = errors.New("domain: invariant violation")
	ErrNoAvailableRobot    = errors.New("domain: no available robot")
	ErrTenantMismatch      = errors.New("domain: tenant mismatch")
)
