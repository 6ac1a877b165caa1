package research

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType partitions failures into the kinds the engine's recovery policy
// distinguishes. Transient kinds are retried; validation kinds fail the task;
// everything else aborts the objective.
type ErrorType string

const (
	ErrTypeValidation    ErrorType = "Validation"
	ErrTypeNotFound      ErrorType = "NotFound"
	ErrTypeTemporary     ErrorType = "Temporary"
	ErrTypeAgent         ErrorType = "Agent"
	ErrTypeDatabase      ErrorType = "Database"
	ErrTypeWorkflowState ErrorType = "WorkflowState"
)

// Transient reports whether errors of this type may succeed on retry.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrTypeTemporary, ErrTypeAgent, ErrTypeDatabase:
		return true
	}
	return false
}

// ErrNotFound is the sentinel for unknown objective/task/step/workflow IDs.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad input or an illegal lifecycle transition.
// It surfaces as 4xx and never reaches node handlers.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AgentError reports an LLM call failure or unparseable agent output.
// Transient on first failure, promoted to permanent after max retries.
type AgentError struct {
	Agent   string
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Agent != "" {
		return "agent " + e.Agent + ": " + e.Message
	}
	return e.Message
}

func (e *AgentError) Unwrap() error { return e.Cause }

// DatabaseError wraps a rolled-back transaction failure.
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// StateError reports a violated in-memory invariant (e.g. missing
// current_task when required). Always fatal.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

// FlowError is the structured error carried on State. Node handlers never
// panic and never raise across node boundaries; they record a FlowError and
// return, and the engine routes to the error handler.
type FlowError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Node    string         `json:"node,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *FlowError) Error() string {
	return string(e.Type) + ": " + e.Message
}

// FaultType labels the fault for engine metrics.
func (e *FlowError) FaultType() string { return string(e.Type) }

// Classify maps an arbitrary error to the FlowError the recovery policy
// understands. Resource acquisition failures and timeouts are Temporary.
func Classify(node string, err error) *FlowError {
	if err == nil {
		return nil
	}
	fe := &FlowError{Type: ErrTypeTemporary, Message: err.Error(), Node: node}
	var (
		ve *ValidationError
		ae *AgentError
		de *DatabaseError
		se *StateError
	)
	switch {
	case errors.As(err, &ve):
		fe.Type = ErrTypeValidation
	case errors.As(err, &ae):
		fe.Type = ErrTypeAgent
		fe.Details = map[string]any{"agent": ae.Agent}
	case errors.As(err, &de):
		fe.Type = ErrTypeDatabase
	case errors.As(err, &se):
		fe.Type = ErrTypeWorkflowState
	case errors.Is(err, ErrNotFound):
		fe.Type = ErrTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		fe.Type = ErrTypeTemporary
	}
	return fe
}
