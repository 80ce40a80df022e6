package executor

import (
	"errors"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
)

var (
	ErrActionNotFound       = errors.New("action not found")
	ErrOpportunityNotFound  = errors.New("opportunity not found")
	ErrExecutionLogNotFound = errors.New("execution log not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrNoHandler            = errors.New("no handler registered for action type")
	ErrNotRollbackable      = errors.New("cannot roll back a failed execution")
	ErrAlreadyRolledBack    = errors.New("execution already rolled back")
	ErrNoRollbackData       = errors.New("no rollback data available")
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindNotFound   ErrorKind = "not_found"
	KindInvalid    ErrorKind = "invalid_state"
	KindNoHandler  ErrorKind = "no_handler"
	KindValidation ErrorKind = "validation_failed"
	KindExecution  ErrorKind = "execution_failed"
	KindRollback   ErrorKind = "rollback_failed"
	KindStorage    ErrorKind = "storage_error"
)

// ExecutionResult is returned by Execute. Success=false always carries Kind and Error.
type ExecutionResult struct {
	Success        bool                   `json:"success"`
	ActionID       string                 `json:"action_id"`
	ExecutionLogID string                 `json:"execution_log_id,omitempty"`
	Status         models.ActionStatus    `json:"status,omitempty"`
	Output         map[string]interface{} `json:"output,omitempty"`
	DurationMs     int64                  `json:"duration_ms"`
	Kind           ErrorKind              `json:"error_kind,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// RollbackResult is returned by Rollback.
type RollbackResult struct {
	Success        bool      `json:"success"`
	ExecutionLogID string    `json:"execution_log_id"`
	ActionID       string    `json:"action_id,omitempty"`
	Kind           ErrorKind `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// TransitionResult is returned by Approve and Reject.
type TransitionResult struct {
	Success  bool                `json:"success"`
	ActionID string              `json:"action_id"`
	Status   models.ActionStatus `json:"status,omitempty"`
	Kind     ErrorKind           `json:"error_kind,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// SweepResult aggregates one auto-execution sweep.
type SweepResult struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

func executionFailure(actionID string, kind ErrorKind, err error) ExecutionResult {
	return ExecutionResult{ActionID: actionID, Kind: kind, Error: err.Error()}
}

func rollbackFailure(logID string, kind ErrorKind, err error) RollbackResult {
	return RollbackResult{ExecutionLogID: logID, Kind: kind, Error: err.Error()}
}

func transitionFailure(actionID string, kind ErrorKind, err error) TransitionResult {
	return TransitionResult{ActionID: actionID, Kind: kind, Error: err.Error()}
}
