package research

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow is one run of a graph over one Objective. SerializedState mirrors
// the in-memory State closely enough to resume; IsPaused is authoritative:
// when true no node advancement is permitted.
type Workflow struct {
	ID              string          `json:"workflow_id"`
	ObjectiveID     string          `json:"objective_id"`
	Kind            GraphKind       `json:"workflow_type"`
	Status          WorkflowStatus  `json:"status"`
	CurrentNode     string          `json:"current_node,omitempty"`
	IsPaused        bool            `json:"is_paused"`
	SerializedState json.RawMessage `json:"serialized_state,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewWorkflow creates a PENDING workflow for an objective.
func NewWorkflow(objectiveID string, kind GraphKind) *Workflow {
	return &Workflow{
		ID:          uuid.NewString(),
		ObjectiveID: objectiveID,
		Kind:        kind,
		Status:      WorkflowPending,
		CreatedAt:   Now(),
	}
}

// Start marks the workflow RUNNING.
func (w *Workflow) Start() {
	now := Now()
	w.Status = WorkflowRunning
	w.StartedAt = &now
}

// Finish marks the workflow with a terminal status.
func (w *Workflow) Finish(status WorkflowStatus) {
	now := Now()
	w.Status = status
	w.CompletedAt = &now
}

// Checkpoint is an append-only snapshot of serialized state taken at a named
// node. A new workflow can be seeded from any checkpoint.
type Checkpoint struct {
	ID         string          `json:"checkpoint_id"`
	WorkflowID string          `json:"workflow_id"`
	NodeName   string          `json:"node_name"`
	State      json.RawMessage `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewCheckpoint snapshots state at the named node.
func NewCheckpoint(workflowID, nodeName string, state json.RawMessage) *Checkpoint {
	return &Checkpoint{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		NodeName:   nodeName,
		State:      state,
		CreatedAt:  Now(),
	}
}
