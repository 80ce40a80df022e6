package models

import (
	"encoding/json"
	"time"
)

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "PENDING"
	StatusApproved   ActionStatus = "APPROVED"
	StatusRejected   ActionStatus = "REJECTED"
	StatusExecuted   ActionStatus = "EXECUTED"
	StatusFailed     ActionStatus = "FAILED"
	StatusRolledBack ActionStatus = "ROLLED_BACK"
)

// IsResolved reports whether the status closes out its opportunity.
func (s ActionStatus) IsResolved() bool {
	return s == StatusExecuted || s == StatusRolledBack
}

// Tier is the autonomy level of an action type.
type Tier int

const (
	TierAuto     Tier = 1 // runs unattended
	TierApproval Tier = 2 // runs once a human approves
	TierManual   Tier = 3 // never run by the engine
)

// Trigger records who or what started an execution attempt.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAuto     Trigger = "auto"
	TriggerApproved Trigger = "approved"
)

// Action is a proposed content mutation tied to an Opportunity.
type Action struct {
	ID                string            `json:"id"`
	OpportunityID     string            `json:"opportunity_id"`
	ActionType        string            `json:"action_type"`
	ActionData        json.RawMessage   `json:"action_data,omitempty"`
	Status            ActionStatus      `json:"status"`
	Tier              Tier              `json:"tier"`
	AutoExecutable    bool              `json:"auto_executable"`
	ExecutionAttempts int               `json:"execution_attempts"`
	LastAttemptAt     *time.Time        `json:"last_attempt_at,omitempty"`
	ExecutionResult   *ExecutionOutcome `json:"execution_result,omitempty"`
	ExecutedAt        *time.Time        `json:"executed_at,omitempty"`
	RolledBackAt      *time.Time        `json:"rolled_back_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// DecodeData unmarshals the type-specific action payload into v.
func (a *Action) DecodeData(v interface{}) error {
	if len(a.ActionData) == 0 {
		return nil
	}
	return json.Unmarshal(a.ActionData, v)
}

// ExecutionOutcome is the result stored on the Action after an attempt.
type ExecutionOutcome struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// OpportunityStatus is the lifecycle state of an Opportunity.
type OpportunityStatus string

const (
	OpportunityDetected    OpportunityStatus = "DETECTED"
	OpportunityApproved    OpportunityStatus = "APPROVED"
	OpportunityRejected    OpportunityStatus = "REJECTED"
	OpportunityImplemented OpportunityStatus = "IMPLEMENTED"
)

// Opportunity is the detected justification for one or more Actions.
type Opportunity struct {
	ID                     string            `json:"id"`
	Title                  string            `json:"title"`
	Confidence             float64           `json:"confidence"`
	EstimatedRevenueImpact float64           `json:"estimated_revenue_impact"`
	ContentID              string            `json:"content_id,omitempty"`
	Status                 OpportunityStatus `json:"status"`
	ImplementedAt          *time.Time        `json:"implemented_at,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
}
