package graph

import (
	"errors"
	"fmt"
)

// ErrStepBudgetExceeded indicates that a run reached Options.MaxSteps without
// terminating. This bounds loops (evaluator → improve → execute) that would
// otherwise run forever. The last successful node is still persisted.
var ErrStepBudgetExceeded = errors.New("step budget exceeded")

// ErrPaused indicates that the run observed the authoritative pause flag and
// stopped before advancing to the next node.
var ErrPaused = errors.New("workflow paused")

// ErrCancelled indicates that the run observed an out-of-band cancellation,
// through its context or the persisted workflow status, and stopped before
// advancing to the next node.
var ErrCancelled = errors.New("workflow cancelled")

// GraphValidationError reports an inconsistency detected while compiling a
// graph: a missing node reference, an empty target map, or an unreachable
// finish node.
type GraphValidationError struct {
	Message string
}

func (e *GraphValidationError) Error() string {
	return "graph validation: " + e.Message
}

// RoutingError reports a conditional router returning a label with no target
// and no declared default.
type RoutingError struct {
	Node  string
	Label string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route from node %q for label %q", e.Node, e.Label)
}

// EngineError reports a misconfigured or misused engine (missing entry node,
// unknown node during execution).
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string { return e.Message }
