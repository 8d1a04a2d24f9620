// Package triggerbus materializes Jobs from event-based Triggers:
// webhooks, file-watch, and external sources. Predicate evaluation
// parses, type-checks, and then evaluates each filter expression against
// the event payload, rather than only statically checking it.
package triggerbus

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// filterEnv is the CEL environment inbound trigger events are evaluated
// against: a single dynamic "event" variable holding the decoded JSON
// payload as a map.
var filterEnv = mustBuildFilterEnv()

func mustBuildFilterEnv() *cel.Env {
	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		panic(fmt.Sprintf("triggerbus: failed to build CEL environment: %v", err))
	}
	return env
}

// EvaluateFilter parses, type-checks, and evaluates expr against event.
// An empty expr always matches.
func EvaluateFilter(expr string, event map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	parsed, issues := filterEnv.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("triggerbus: parse filter: %w", issues.Err())
	}
	checked, issues := filterEnv.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("triggerbus: type-check filter: %w", issues.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) && checked.OutputType() != cel.DynType {
		return false, fmt.Errorf("triggerbus: filter must evaluate to a boolean, got %s", checked.OutputType())
	}

	program, err := filterEnv.Program(checked)
	if err != nil {
		return false, fmt.Errorf("triggerbus: build program: %w", err)
	}
	out, _, err := program.Eval(map[string]any{"event": event})
	if err != nil {
		return false, fmt.Errorf("triggerbus: evaluate filter: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("triggerbus: filter did not evaluate to bool, got %T", out.Value())
	}
	return result, nil
}
