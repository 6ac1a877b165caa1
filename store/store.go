// Package store persists the research data model: objectives, tasks, steps,
// workflows and checkpoints. One table per entity; structured columns
// (depends_on, metadata, input/output data, serialized state) are JSON.
//
// Backends:
//   - Memory for tests and single-shot runs (memory.go)
//   - database/sql with sqlite and mysql dialects (sql.go)
//   - pgx-native postgres for production (postgres.go)
//
// Every write is an idempotent upsert keyed by entity id. Node handlers wrap
// their writes in WithinTx so a partial commit never leaves the store
// inconsistent with in-memory state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arclabs-io/researchgraph/research"
)

// ErrNotFound is returned when a requested entity id does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// Store is the persistence contract shared by every backend.
type Store interface {
	// UpsertObjective inserts or replaces the objective row. Tasks are not
	// written; persist them with UpsertTask.
	UpsertObjective(ctx context.Context, o *research.Objective) error

	// GetObjective loads one objective with its tasks and their steps
	// attached, in creation order.
	GetObjective(ctx context.Context, id string) (*research.Objective, error)

	// UpdateObjectiveStatus sets the status column; completedAt is written
	// when non-nil (terminal transitions).
	UpdateObjectiveStatus(ctx context.Context, id string, status research.ObjectiveStatus, completedAt *time.Time) error

	// UpsertTask inserts or replaces the task row, depends_on included.
	UpsertTask(ctx context.Context, t *research.Task) error

	// GetTask loads one task with its steps attached.
	GetTask(ctx context.Context, id string) (*research.Task, error)

	// ListTasks returns the objective's tasks in creation order, steps
	// attached.
	ListTasks(ctx context.Context, objectiveID string) ([]*research.Task, error)

	// ListTasksByStatus returns tasks in the given status across all
	// objectives. The background scheduler polls with this.
	ListTasksByStatus(ctx context.Context, status research.TaskStatus) ([]*research.Task, error)

	// UpdateTaskStatus sets the status column and bumps updated_at (the
	// scheduler heartbeat); errMsg lands in result_summary when non-empty.
	UpdateTaskStatus(ctx context.Context, id string, status research.TaskStatus, errMsg string) error

	// UpsertStep inserts or replaces the step row, output_data and
	// error_message included.
	UpsertStep(ctx context.Context, s *research.Step) error

	// GetStep loads one step.
	GetStep(ctx context.Context, id string) (*research.Step, error)

	// ListSteps returns the task's steps in creation order.
	ListSteps(ctx context.Context, taskID string) ([]*research.Step, error)

	// UpdateStepStatus sets the status column; errMsg lands in
	// error_message when non-empty.
	UpdateStepStatus(ctx context.Context, id string, status research.StepStatus, errMsg string) error

	// CreateWorkflow inserts the workflow row.
	CreateWorkflow(ctx context.Context, w *research.Workflow) error

	// UpdateWorkflow replaces the mutable workflow columns: status,
	// current_node, is_paused, serialized_state, started/completed.
	UpdateWorkflow(ctx context.Context, w *research.Workflow) error

	// GetWorkflow loads one workflow.
	GetWorkflow(ctx context.Context, id string) (*research.Workflow, error)

	// ListWorkflows returns the objective's workflows in creation order.
	ListWorkflows(ctx context.Context, objectiveID string) ([]*research.Workflow, error)

	// CreateCheckpoint appends a checkpoint snapshot. Checkpoints are
	// never updated.
	CreateCheckpoint(ctx context.Context, cp *research.Checkpoint) error

	// GetCheckpoint loads one checkpoint.
	GetCheckpoint(ctx context.Context, id string) (*research.Checkpoint, error)

	// ListCheckpoints returns a workflow's checkpoints in creation order.
	ListCheckpoints(ctx context.Context, workflowID string) ([]*research.Checkpoint, error)

	// WithinTx runs fn against a transactional view of the store. An error
	// from fn rolls everything back. Node handlers use one WithinTx per
	// node commit.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Ping verifies the backend is reachable; health checks use it.
	Ping(ctx context.Context) error

	// Close releases the backend. Operations after Close fail.
	Close() error
}
