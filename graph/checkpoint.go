package graph

import "context"

// Checkpointer persists a snapshot of state after a node completes.
// Snapshots are append-only; restoring one seeds a new run that re-enters
// the graph at the recorded node.
//
// The engine calls SaveCheckpoint after the node's own transaction has
// committed, so a snapshot never precedes the durable effects it captures.
type Checkpointer[S any] interface {
	SaveCheckpoint(ctx context.Context, runID, node string, state S) error
}

// CheckpointerFunc adapts a function to the Checkpointer interface.
type CheckpointerFunc[S any] func(ctx context.Context, runID, node string, state S) error

// SaveCheckpoint implements Checkpointer.
func (f CheckpointerFunc[S]) SaveCheckpoint(ctx context.Context, runID, node string, state S) error {
	return f(ctx, runID, node, state)
}

// PauseChecker reports whether a run must stop advancing. The pause flag on
// the workflow row is authoritative; the engine consults it at every node
// boundary.
type PauseChecker func(ctx context.Context, runID string) (bool, error)

// CancelChecker reports whether a run was cancelled out of band, through the
// API rather than the run's own context. The persisted workflow status is
// authoritative; the engine consults it at every node boundary and stops with
// a cancelled update when it reports true.
type CancelChecker func(ctx context.Context, runID string) (bool, error)
