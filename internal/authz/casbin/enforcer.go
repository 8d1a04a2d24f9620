// Package casbin authorizes Admin API requests with a Casbin RBAC
// policy, trimmed from the teacher's hierarchical resource-path
// enforcer down to a flat (subject, resource, action) model: this
// domain has no namespace/component hierarchy to match against, and
// policies are loaded from a plain CSV file rather than the teacher's
// Kubernetes-CRD watcher (no CRDs exist outside a cluster control
// plane).
package casbin

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// rbacModel is the built-in request/policy/role-definition/matcher used
// for every deployment: (sub, obj, act) triples with role inheritance
// via g.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Enforcer wraps a Casbin enforcer backed by a file adapter, reloading
// the policy file on every Enforce call's underlying cache only when
// Reload is invoked explicitly (the teacher's pattern of loading once at
// startup and reloading on an explicit operator action, not on a
// background poll).
type Enforcer struct {
	enforcer *casbin.Enforcer
	logger   *slog.Logger
	path     string
}

// New constructs an Enforcer backed by the CSV policy file at path,
// e.g.:
//
//	p, operator, job, cancel
//	p, operator, robot, pause
//	g, alice, operator
func New(path string, logger *slog.Logger) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("casbin: parse model: %w", err)
	}
	e, err := casbin.NewEnforcer(m, path)
	if err != nil {
		return nil, fmt.Errorf("casbin: new enforcer: %w", err)
	}
	return &Enforcer{enforcer: e, logger: logger.With("component", "authz"), path: path}, nil
}

// Allow reports whether subject may perform action on resource.
func (e *Enforcer) Allow(subject, resource, action string) (bool, error) {
	ok, err := e.enforcer.Enforce(subject, resource, action)
	if err != nil {
		return false, fmt.Errorf("casbin: enforce: %w", err)
	}
	if !ok {
		e.logger.Debug("access denied", "subject", subject, "resource", resource, "action", action)
	}
	return ok, nil
}

// Reload re-reads the policy file, for operators who edited it without
// restarting the orchestrator.
func (e *Enforcer) Reload() error {
	if err := e.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("casbin: reload policy: %w", err)
	}
	return nil
}
