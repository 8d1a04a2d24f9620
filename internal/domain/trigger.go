package domain

import "time"

// TriggerKind identifies the input surface a Trigger listens on.
type TriggerKind int

const (
	TriggerWebhook TriggerKind = iota
	TriggerFile
	TriggerExternal
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerWebhook:
		return "webhook"
	case TriggerFile:
		return "file"
	case TriggerExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Trigger is an event-based rule that materializes Jobs when an inbound
// event passes its filter predicate, subject to a cooldown window.
type Trigger struct {
	ID             string
	Name           string
	Kind           TriggerKind
	WorkflowID     string
	FilterCEL      string // CEL predicate evaluated against the event payload; empty always matches
	SharedSecret   string // webhook-only: value of X-Webhook-Secret
	CooldownWindow time.Duration
	MaxPerWindow   int
	Enabled        bool

	// windowStart/windowCount implement the fixed-window rate limiter.
	// They are mutated only by Allow below, kept on the
	// entity so the Trigger Bus stays a thin dispatcher.
	windowStart time.Time
	windowCount int
}

// Allow reports whether an event at time `now` fits within the trigger's
// cooldown window and, if so, consumes a slot. It does not itself
// construct or enqueue a Job.
func (t *Trigger) Allow(now time.Time) bool {
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= t.CooldownWindow {
		t.windowStart = now
		t.windowCount = 0
	}
	if t.windowCount >= t.MaxPerWindow {
		return false
	}
	t.windowCount++
	return true
}

// CooldownRemaining reports how long until the current window resets, for
// the 429 response body's cooldown_remaining field.
func (t *Trigger) CooldownRemaining(now time.Time) time.Duration {
	if t.windowStart.IsZero() {
		return 0
	}
	elapsed := now.Sub(t.windowStart)
	remaining := t.CooldownWindow - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
