// Package graph provides the typed workflow graph engine: static wiring of
// nodes and edges, labeled conditional routing, per-node checkpoints, fault
// routing, a step budget, and a streaming execution API.
package graph

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// Router evaluates a state and returns a discrete label. The label selects
// the target from the conditional edge's Targets map. Routers must be pure:
// deterministic, no side effects.
//
// Type parameter S is the state type to evaluate.
type Router[S any] func(state S) string

// ConditionalEdge routes out of From by evaluating Router and mapping the
// returned label through Targets. If the label is absent and Default is
// empty, the engine raises a *RoutingError.
type ConditionalEdge[S any] struct {
	From    string
	Router  Router[S]
	Targets map[string]string

	// Default is the target taken when the router's label has no entry in
	// Targets. Empty means no default.
	Default string
}

// resolve maps a label to a target node, reporting whether one was found.
func (e *ConditionalEdge[S]) resolve(label string) (string, bool) {
	if to, ok := e.Targets[label]; ok {
		return to, true
	}
	if e.Default != "" {
		return e.Default, true
	}
	return "", false
}
