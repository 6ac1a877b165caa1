package graph

import "context"

// Node is a processing unit in the workflow graph. It receives the state,
// performs its stage of work (agent calls, persistence, state mutation), and
// returns a NodeResult carrying the successor state.
//
// Handlers follow a uniform shape: mark the node visited, acquire resources,
// invoke agents, persist within one transaction, and either return the new
// state or record a fault on it. They never panic across the node boundary.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic. A non-nil NodeResult.Err aborts the
	// run; recoverable failures are recorded on the state itself so the
	// engine can route them to the error handler.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of a node execution.
type NodeResult[S any] struct {
	// State is the full successor state. Nodes own the value they were
	// given and return it (possibly mutated); the engine never writes to
	// one state concurrently.
	State S

	// Route optionally overrides edge-based routing. The zero value
	// defers to the compiled graph's edges.
	Route Route

	// Err is an engine-level failure (not a recoverable node fault).
	// It terminates the run immediately.
	Err error
}

// Route is an explicit routing directive returned by a node.
type Route struct {
	// To names the next node. Empty defers to edges.
	To string

	// Terminal stops the run after this node.
	Terminal bool
}

// Goto routes explicitly to the named node.
func Goto(node string) Route { return Route{To: node} }

// Stop terminates the run after this node.
func Stop() Route { return Route{Terminal: true} }

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// Faulter is implemented by state types that carry a recoverable node-level
// fault. After each node the engine inspects Fault(): a non-nil fault routes
// to the configured error node ahead of any static or conditional edge.
type Faulter interface {
	Fault() error
}
