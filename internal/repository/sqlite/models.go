package sqlite

import (
	"encoding/json"
	"time"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// jobRow is the gorm-mapped row for a Job. Fields that are maps or
// pointers on the entity (Result, Error, the *time.Time marks) are
// flattened to nullable/JSON columns; domain invariants are re-checked
// nowhere here since a row is only ever produced by a value that already
// satisfied them in-process.
type jobRow struct {
	ID             string `gorm:"primaryKey"`
	WorkflowID     string `gorm:"index"`
	WorkflowBlob   []byte
	TargetRobotID  string
	TenantID       string `gorm:"index"`
	Priority       int
	Status         int `gorm:"index"`
	ScheduledStart *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CurrentNode    string
	Progress       int
	ResultJSON     string
	ErrorJSON      string
	IdempotencyKey string `gorm:"index"`
	RetryOfJobID   string
	Deprioritized  bool
	RejectCount    int
}

func (jobRow) TableName() string { return "jobs" }

func jobToRow(j *domain.Job) (*jobRow, error) {
	resultJSON, err := json.Marshal(j.Result)
	if err != nil {
		return nil, err
	}
	var errJSON string
	if j.Error != nil {
		b, err := json.Marshal(j.Error)
		if err != nil {
			return nil, err
		}
		errJSON = string(b)
	}
	return &jobRow{
		ID:             j.ID,
		WorkflowID:     j.WorkflowID,
		WorkflowBlob:   j.WorkflowBlob,
		TargetRobotID:  j.TargetRobotID,
		TenantID:       j.TenantID,
		Priority:       int(j.Priority),
		Status:         int(j.Status),
		ScheduledStart: j.ScheduledStart,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CurrentNode:    j.CurrentNode,
		Progress:       j.Progress,
		ResultJSON:     string(resultJSON),
		ErrorJSON:      errJSON,
		IdempotencyKey: j.IdempotencyKey,
		RetryOfJobID:   j.RetryOfJobID,
		Deprioritized:  j.Deprioritized,
		RejectCount:    j.RejectCount,
	}, nil
}

func rowToJob(r *jobRow) (*domain.Job, error) {
	j := &domain.Job{
		ID:             r.ID,
		WorkflowID:     r.WorkflowID,
		WorkflowBlob:   r.WorkflowBlob,
		TargetRobotID:  r.TargetRobotID,
		TenantID:       r.TenantID,
		Priority:       domain.Priority(r.Priority),
		Status:         domain.Status(r.Status),
		ScheduledStart: r.ScheduledStart,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CurrentNode:    r.CurrentNode,
		Progress:       r.Progress,
		IdempotencyKey: r.IdempotencyKey,
		RetryOfJobID:   r.RetryOfJobID,
		Deprioritized:  r.Deprioritized,
		RejectCount:    r.RejectCount,
	}
	if r.ResultJSON != "" {
		if err := json.Unmarshal([]byte(r.ResultJSON), &j.Result); err != nil {
			return nil, err
		}
	}
	if r.ErrorJSON != "" {
		var jobErr domain.JobError
		if err := json.Unmarshal([]byte(r.ErrorJSON), &jobErr); err != nil {
			return nil, err
		}
		j.Error = &jobErr
	}
	return j, nil
}

type robotRow struct {
	ID                     string `gorm:"primaryKey"`
	Name                   string
	Status                 int `gorm:"index"`
	Environment            string
	TenantID               string `gorm:"index"`
	MaxConcurrentJobs      int
	CurrentJobsJSON        string
	CapabilitiesJSON       string
	LastHeartbeat          time.Time
	WorkflowAffinitiesJSON string
}

func (robotRow) TableName() string { return "robots" }

func robotToRow(r *domain.Robot) (*robotRow, error) {
	jobsJSON, err := json.Marshal(r.CurrentJobs)
	if err != nil {
		return nil, err
	}
	capsJSON, err := json.Marshal(r.Capabilities)
	if err != nil {
		return nil, err
	}
	affJSON, err := json.Marshal(r.WorkflowAffinities)
	if err != nil {
		return nil, err
	}
	return &robotRow{
		ID:                     r.ID,
		Name:                   r.Name,
		Status:                 int(r.Status),
		Environment:            r.Environment,
		TenantID:               r.TenantID,
		MaxConcurrentJobs:      r.MaxConcurrentJobs,
		CurrentJobsJSON:        string(jobsJSON),
		CapabilitiesJSON:       string(capsJSON),
		LastHeartbeat:          r.LastHeartbeat,
		WorkflowAffinitiesJSON: string(affJSON),
	}, nil
}

func rowToRobot(row *robotRow) (*domain.Robot, error) {
	r := &domain.Robot{
		ID:                row.ID,
		Name:              row.Name,
		Status:            domain.RobotStatus(row.Status),
		Environment:       row.Environment,
		TenantID:          row.TenantID,
		MaxConcurrentJobs: row.MaxConcurrentJobs,
		LastHeartbeat:     row.LastHeartbeat,
	}
	if row.CurrentJobsJSON != "" {
		if err := json.Unmarshal([]byte(row.CurrentJobsJSON), &r.CurrentJobs); err != nil {
			return nil, err
		}
	}
	if row.CapabilitiesJSON != "" {
		if err := json.Unmarshal([]byte(row.CapabilitiesJSON), &r.Capabilities); err != nil {
			return nil, err
		}
	} else {
		r.Capabilities = map[domain.Capability]bool{}
	}
	if row.WorkflowAffinitiesJSON != "" {
		if err := json.Unmarshal([]byte(row.WorkflowAffinitiesJSON), &r.WorkflowAffinities); err != nil {
			return nil, err
		}
	} else {
		r.WorkflowAffinities = map[string]bool{}
	}
	return r, nil
}

type workflowRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Description string
	Version     int
	Status      int `gorm:"index"`
	Definition  []byte
	RetrySafe   bool
}

func (workflowRow) TableName() string { return "workflows" }

func workflowToRow(w *domain.Workflow) *workflowRow {
	return &workflowRow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Status:      int(w.Status),
		Definition:  w.Definition,
		RetrySafe:   w.RetrySafe,
	}
}

func rowToWorkflow(r *workflowRow) *domain.Workflow {
	return &domain.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		Status:      domain.WorkflowStatus(r.Status),
		Definition:  r.Definition,
		RetrySafe:   r.RetrySafe,
	}
}

type scheduleRow struct {
	ID              string `gorm:"primaryKey"`
	Name            string
	WorkflowID      string `gorm:"index"`
	FixedRobotID    string
	Frequency       int
	CronExpr        string
	Timezone        string
	Enabled         bool `gorm:"index"`
	RunCount        int
	SuccessCount    int
	LastRun         *time.Time
	NextRun         *time.Time
	DefaultPriority int
}

func (scheduleRow) TableName() string { return "schedules" }

func scheduleToRow(s *domain.Schedule) *scheduleRow {
	return &scheduleRow{
		ID:              s.ID,
		Name:            s.Name,
		WorkflowID:      s.WorkflowID,
		FixedRobotID:    s.FixedRobotID,
		Frequency:       int(s.Frequency),
		CronExpr:        s.CronExpr,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		RunCount:        s.RunCount,
		SuccessCount:    s.SuccessCount,
		LastRun:         s.LastRun,
		NextRun:         s.NextRun,
		DefaultPriority: int(s.DefaultPriority),
	}
}

func rowToSchedule(r *scheduleRow) *domain.Schedule {
	return &domain.Schedule{
		ID:              r.ID,
		Name:            r.Name,
		WorkflowID:      r.WorkflowID,
		FixedRobotID:    r.FixedRobotID,
		Frequency:       domain.Frequency(r.Frequency),
		CronExpr:        r.CronExpr,
		Timezone:        r.Timezone,
		Enabled:         r.Enabled,
		RunCount:        r.RunCount,
		SuccessCount:    r.SuccessCount,
		LastRun:         r.LastRun,
		NextRun:         r.NextRun,
		DefaultPriority: domain.Priority(r.DefaultPriority),
	}
}

// triggerRow drops the entity's private rate-limiter window (windowStart,
// windowCount): that state is process-local bookkeeping, not durable
// configuration, and resets cleanly on restart the same way an
// in-memory-only registry heartbeat does.
type triggerRow struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	Kind           int
	WorkflowID     string `gorm:"index"`
	FilterCEL      string
	SharedSecret   string
	CooldownWindow time.Duration
	MaxPerWindow   int
	Enabled        bool `gorm:"index"`
}

func (triggerRow) TableName() string { return "triggers" }

func triggerToRow(t *domain.Trigger) *triggerRow {
	return &triggerRow{
		ID:             t.ID,
		Name:           t.Name,
		Kind:           int(t.Kind),
		WorkflowID:     t.WorkflowID,
		FilterCEL:      t.FilterCEL,
		SharedSecret:   t.SharedSecret,
		CooldownWindow: t.CooldownWindow,
		MaxPerWindow:   t.MaxPerWindow,
		Enabled:        t.Enabled,
	}
}

func rowToTrigger(r *triggerRow) *domain.Trigger {
	return &domain.Trigger{
		ID:             r.ID,
		Name:           r.Name,
		Kind:           domain.TriggerKind(r.Kind),
		WorkflowID:     r.WorkflowID,
		FilterCEL:      r.FilterCEL,
		SharedSecret:   r.SharedSecret,
		CooldownWindow: r.CooldownWindow,
		MaxPerWindow:   r.MaxPerWindow,
		Enabled:        r.Enabled,
	}
}

type assignmentRow struct {
	WorkflowID string `gorm:"primaryKey"`
	RobotID    string `gorm:"primaryKey"`
	Priority   int
	IsDefault  bool
	CreatedAt  time.Time
}

func (assignmentRow) TableName() string { return "robot_assignments" }

func assignmentToRow(a domain.RobotAssignment) assignmentRow {
	return assignmentRow{
		WorkflowID: a.WorkflowID,
		RobotID:    a.RobotID,
		Priority:   a.Priority,
		IsDefault:  a.IsDefault,
		CreatedAt:  a.CreatedAt,
	}
}

func rowToAssignment(r assignmentRow) domain.RobotAssignment {
	return domain.RobotAssignment{
		WorkflowID: r.WorkflowID,
		RobotID:    r.RobotID,
		Priority:   r.Priority,
		IsDefault:  r.IsDefault,
		CreatedAt:  r.CreatedAt,
	}
}

type overrideRow struct {
	WorkflowID               string `gorm:"primaryKey"`
	NodeID                   string `gorm:"primaryKey"`
	RobotID                  string
	RequiredCapabilitiesJSON string
	Strict                   bool
	Active                   bool
}

func (overrideRow) TableName() string { return "node_robot_overrides" }

func overrideToRow(o domain.NodeRobotOverride) (overrideRow, error) {
	capsJSON, err := json.Marshal(o.RequiredCapabilities)
	if err != nil {
		return overrideRow{}, err
	}
	return overrideRow{
		WorkflowID:               o.WorkflowID,
		NodeID:                   o.NodeID,
		RobotID:                  o.RobotID,
		RequiredCapabilitiesJSON: string(capsJSON),
		Strict:                   o.Strict,
		Active:                   o.Active,
	}, nil
}

type auditRow struct {
	ID         string `gorm:"primaryKey"`
	Action     int
	Actor      string
	TargetType string `gorm:"index"`
	TargetID   string `gorm:"index"`
	Reason     string
	Timestamp  time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_events" }

func auditToRow(e *domain.AuditEvent) *auditRow {
	return &auditRow{
		ID:         e.ID,
		Action:     int(e.Action),
		Actor:      e.Actor,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Reason:     e.Reason,
		Timestamp:  e.Timestamp,
	}
}

func rowToAudit(r *auditRow) *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:         r.ID,
		Action:     domain.AuditAction(r.Action),
		Actor:      r.Actor,
		TargetType: r.TargetType,
		TargetID:   r.TargetID,
		Reason:     r.Reason,
		Timestamp:  r.Timestamp,
	}
}

func rowToOverride(r overrideRow) (domain.NodeRobotOverride, error) {
	o := domain.NodeRobotOverride{
		WorkflowID: r.WorkflowID,
		NodeID:     r.NodeID,
		RobotID:    r.RobotID,
		Strict:     r.Strict,
		Active:     r.Active,
	}
	if r.RequiredCapabilitiesJSON != "" {
		if err := json.Unmarshal([]byte(r.RequiredCapabilitiesJSON), &o.RequiredCapabilities); err != nil {
			return o, err
		}
	}
	return o, nil
}
