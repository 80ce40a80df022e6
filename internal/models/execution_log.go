package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRollbackTypeMismatch = errors.New("rollback data belongs to a different action type")
	ErrEmptyRollbackData    = errors.New("rollback data is empty")
)

// ExecutionLog is the audit record of one execution attempt. Only the
// rollback fields are written after creation.
type ExecutionLog struct {
	ID             string          `json:"id"`
	ActionID       string          `json:"action_id"`
	ActionType     string          `json:"action_type"`
	ExecutedBy     Trigger         `json:"executed_by"`
	InputData      json.RawMessage `json:"input_data,omitempty"`
	OutputData     json.RawMessage `json:"output_data,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	RollbackData   *RollbackData   `json:"rollback_data,omitempty"`
	RolledBackAt   *time.Time      `json:"rolled_back_at,omitempty"`
	RolledBackBy   string          `json:"rolled_back_by,omitempty"`
	RollbackReason string          `json:"rollback_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ResolveRollbackData returns the log's own rollback data, falling back to a
// rollback_data entry embedded in the output snapshot.
func (l *ExecutionLog) ResolveRollbackData() *RollbackData {
	if !l.RollbackData.IsEmpty() {
		return l.RollbackData
	}
	if len(l.OutputData) == 0 {
		return nil
	}
	var output struct {
		RollbackData *RollbackData `json:"rollback_data"`
	}
	if err := json.Unmarshal(l.OutputData, &output); err != nil {
		return nil
	}
	if output.RollbackData.IsEmpty() {
		return nil
	}
	return output.RollbackData
}

// RollbackData is handler-owned undo state tagged with the action type that
// produced it.
type RollbackData struct {
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
}

// NewRollbackData encodes v as rollback state for actionType.
func NewRollbackData(actionType string, v interface{}) (*RollbackData, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rollback data: %w", err)
	}
	return &RollbackData{ActionType: actionType, Payload: payload}, nil
}

// IsEmpty reports whether there is nothing to roll back with.
func (d *RollbackData) IsEmpty() bool {
	return d == nil || len(d.Payload) == 0 || string(d.Payload) == "null"
}

// Decode unmarshals the payload into v after checking the type tag.
func (d *RollbackData) Decode(actionType string, v interface{}) error {
	if d.IsEmpty() {
		return ErrEmptyRollbackData
	}
	if d.ActionType != actionType {
		return fmt.Errorf("%w: have %s, want %s", ErrRollbackTypeMismatch, d.ActionType, actionType)
	}
	return json.Unmarshal(d.Payload, v)
}
