// Package research defines the durable data model for multi-agent research
// workflows: Objective, Task, Step, Workflow and the in-memory State that
// flows through the graph engine.
package research

// ObjectiveStatus is the lifecycle state of an Objective.
//
// The lifecycle follows:
//
//	CREATED → ANALYZING → DECOMPOSING → PLANNING → EXECUTING → SYNTHESIZING → COMPLETED
//
// with FAILED and CANCELLED reachable from any non-terminal status, and
// PAUSED toggling with EXECUTING.
type ObjectiveStatus string

const (
	ObjectiveCreated      ObjectiveStatus = "CREATED"
	ObjectiveAnalyzing    ObjectiveStatus = "ANALYZING"
	ObjectiveDecomposing  ObjectiveStatus = "DECOMPOSING"
	ObjectivePlanning     ObjectiveStatus = "PLANNING"
	ObjectiveExecuting    ObjectiveStatus = "EXECUTING"
	ObjectiveSynthesizing ObjectiveStatus = "SYNTHESIZING"
	ObjectiveCompleted    ObjectiveStatus = "COMPLETED"
	ObjectiveFailed       ObjectiveStatus = "FAILED"
	ObjectiveCancelled    ObjectiveStatus = "CANCELLED"
	ObjectivePaused       ObjectiveStatus = "PAUSED"
)

// Terminal reports whether the status is a terminal state.
// completed_at must be set iff the status is terminal.
func (s ObjectiveStatus) Terminal() bool {
	switch s {
	case ObjectiveCompleted, ObjectiveFailed, ObjectiveCancelled:
		return true
	}
	return false
}

// objectiveTransitions enumerates the legal status moves. Restarting a
// workflow resets the objective to CREATED, which is why most in-progress
// states may transition back to it.
var objectiveTransitions = map[ObjectiveStatus][]ObjectiveStatus{
	ObjectiveCreated:      {ObjectiveAnalyzing, ObjectiveFailed, ObjectiveCancelled},
	ObjectiveAnalyzing:    {ObjectiveDecomposing, ObjectiveCreated, ObjectiveFailed, ObjectiveCancelled, ObjectivePaused},
	ObjectiveDecomposing:  {ObjectivePlanning, ObjectiveCreated, ObjectiveFailed, ObjectiveCancelled, ObjectivePaused},
	ObjectivePlanning:     {ObjectiveExecuting, ObjectiveCreated, ObjectiveFailed, ObjectiveCancelled, ObjectivePaused},
	ObjectiveExecuting:    {ObjectiveSynthesizing, ObjectivePlanning, ObjectiveCreated, ObjectiveFailed, ObjectiveCancelled, ObjectivePaused},
	ObjectiveSynthesizing: {ObjectiveCompleted, ObjectiveCreated, ObjectiveFailed, ObjectiveCancelled},
	ObjectivePaused:       {ObjectiveExecuting, ObjectiveAnalyzing, ObjectiveDecomposing, ObjectivePlanning, ObjectiveCancelled, ObjectiveFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s ObjectiveStatus) CanTransition(next ObjectiveStatus) bool {
	if s == next {
		return true
	}
	for _, t := range objectiveTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskReady     TaskStatus = "READY"
	TaskScheduled TaskStatus = "SCHEDULED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskBlocked   TaskStatus = "BLOCKED"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:   {TaskReady, TaskBlocked, TaskCancelled, TaskFailed},
	TaskReady:     {TaskScheduled, TaskRunning, TaskPending, TaskCancelled, TaskFailed},
	TaskScheduled: {TaskRunning, TaskReady, TaskCancelled, TaskFailed},
	TaskRunning:   {TaskCompleted, TaskFailed, TaskPaused, TaskCancelled, TaskReady},
	TaskPaused:    {TaskRunning, TaskCancelled, TaskFailed},
	TaskBlocked:   {TaskPending, TaskReady, TaskCancelled, TaskFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// StepStatus is the lifecycle state of a Step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepReady     StepStatus = "READY"
	StepRunning   StepStatus = "RUNNING"
	StepPaused    StepStatus = "PAUSED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepCancelled StepStatus = "CANCELLED"
	StepSkipped   StepStatus = "SKIPPED"
)

// Terminal reports whether the status is a terminal state.
// SKIPPED counts as terminal for task completion purposes.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled, StepSkipped:
		return true
	}
	return false
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepReady, StepSkipped, StepCancelled},
	StepReady:   {StepRunning, StepPending, StepSkipped, StepCancelled},
	StepRunning: {StepCompleted, StepFailed, StepPaused, StepCancelled, StepReady},
	StepPaused:  {StepRunning, StepCancelled},
	StepFailed:  {StepReady, StepSkipped}, // retry or error-handler downgrade
}

// CanTransition reports whether moving from s to next is legal.
func (s StepStatus) CanTransition(next StepStatus) bool {
	if s == next {
		return true
	}
	for _, t := range stepTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskType classifies a task; the router uses it to pick the execution node.
type TaskType string

const (
	TaskTypeResearch      TaskType = "RESEARCH"
	TaskTypeAnalysis      TaskType = "ANALYSIS"
	TaskTypeDevelopment   TaskType = "DEVELOPMENT"
	TaskTypeIntegration   TaskType = "INTEGRATION"
	TaskTypeTesting       TaskType = "TESTING"
	TaskTypeDocumentation TaskType = "DOCUMENTATION"
	TaskTypeEvaluation    TaskType = "EVALUATION"
	TaskTypeOther         TaskType = "OTHER"
)

// QualityLevel is one of five discrete verdicts used to gate step/task
// progression out of the quality evaluator.
type QualityLevel string

const (
	QualityExcellent        QualityLevel = "EXCELLENT"
	QualityGood             QualityLevel = "GOOD"
	QualityAcceptable       QualityLevel = "ACCEPTABLE"
	QualityNeedsImprovement QualityLevel = "NEEDS_IMPROVEMENT"
	QualityPoor             QualityLevel = "POOR"
)

// Passing reports whether the verdict lets execution proceed.
func (q QualityLevel) Passing() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityAcceptable:
		return true
	}
	return false
}

// WorkflowStatus is the lifecycle state of a Workflow run.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowPaused    WorkflowStatus = "PAUSED"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// Terminal reports whether the status is a terminal state.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// GraphKind names one of the built-in graph shapes.
type GraphKind string

const (
	GraphResearch   GraphKind = "research"
	GraphAnalysis   GraphKind = "analysis"
	GraphExecutor   GraphKind = "executor"
	GraphMultiAgent GraphKind = "multiagent"
)
