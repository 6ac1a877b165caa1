package graph

// Builder accumulates nodes and edges and compiles them into an immutable
// Compiled graph. Construction is static: every node and edge is declared up
// front, and Compile validates the wiring before any execution.
//
// Example:
//
//	b := graph.NewBuilder[research.State]()
//	b.AddNode("analyze", analyzeNode)
//	b.AddNode("done", doneNode)
//	b.AddEdge("analyze", "done")
//	b.SetEntry("analyze")
//	b.SetFinish("done")
//	g, err := b.Compile()
type Builder[S any] struct {
	nodes       map[string]Node[S]
	edges       []Edge
	conditional []ConditionalEdge[S]
	entry       string
	finish      string
}

// NewBuilder creates an empty Builder.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{nodes: make(map[string]Node[S])}
}

// AddNode registers a node under a unique name.
func (b *Builder[S]) AddNode(name string, node Node[S]) *Builder[S] {
	b.nodes[name] = node
	return b
}

// AddEdge declares an unconditional transition.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// AddConditionalEdge declares a labeled routing decision out of from.
// Pass a non-empty dflt to accept labels missing from targets.
func (b *Builder[S]) AddConditionalEdge(from string, router Router[S], targets map[string]string, dflt string) *Builder[S] {
	b.conditional = append(b.conditional, ConditionalEdge[S]{
		From:    from,
		Router:  router,
		Targets: targets,
		Default: dflt,
	})
	return b
}

// SetEntry names the node executed first.
func (b *Builder[S]) SetEntry(name string) *Builder[S] {
	b.entry = name
	return b
}

// SetFinish names the terminal sink. Reaching it emits the final update and
// closes the stream.
func (b *Builder[S]) SetFinish(name string) *Builder[S] {
	b.finish = name
	return b
}

// Compile validates the graph and returns an immutable Compiled value.
//
// Validation rules:
//   - entry and finish are set and registered
//   - every edge endpoint and conditional target references a registered node
//   - every conditional edge has a non-empty target map or a default
//   - at most one conditional edge per source node
//   - the finish node is reachable from the entry
func (b *Builder[S]) Compile() (*Compiled[S], error) {
	if b.entry == "" {
		return nil, &GraphValidationError{Message: "entry node not set"}
	}
	if b.finish == "" {
		return nil, &GraphValidationError{Message: "finish node not set"}
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, &GraphValidationError{Message: "entry node not registered: " + b.entry}
	}
	if _, ok := b.nodes[b.finish]; !ok {
		return nil, &GraphValidationError{Message: "finish node not registered: " + b.finish}
	}

	adjacent := make(map[string][]string, len(b.nodes))
	for _, e := range b.edges {
		if _, ok := b.nodes[e.From]; !ok {
			return nil, &GraphValidationError{Message: "edge from unknown node: " + e.From}
		}
		if _, ok := b.nodes[e.To]; !ok {
			return nil, &GraphValidationError{Message: "edge to unknown node: " + e.To}
		}
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}

	seenCond := make(map[string]bool)
	for _, ce := range b.conditional {
		if _, ok := b.nodes[ce.From]; !ok {
			return nil, &GraphValidationError{Message: "conditional edge from unknown node: " + ce.From}
		}
		if seenCond[ce.From] {
			return nil, &GraphValidationError{Message: "duplicate conditional edge from node: " + ce.From}
		}
		seenCond[ce.From] = true
		if ce.Router == nil {
			return nil, &GraphValidationError{Message: "conditional edge without router on node: " + ce.From}
		}
		if len(ce.Targets) == 0 && ce.Default == "" {
			return nil, &GraphValidationError{Message: "conditional edge with no targets and no default on node: " + ce.From}
		}
		for label, to := range ce.Targets {
			if _, ok := b.nodes[to]; !ok {
				return nil, &GraphValidationError{Message: "conditional target for label " + label + " references unknown node: " + to}
			}
			adjacent[ce.From] = append(adjacent[ce.From], to)
		}
		if ce.Default != "" {
			if _, ok := b.nodes[ce.Default]; !ok {
				return nil, &GraphValidationError{Message: "conditional default references unknown node: " + ce.Default}
			}
			adjacent[ce.From] = append(adjacent[ce.From], ce.Default)
		}
	}

	// BFS from entry: the finish node must be reachable.
	visited := map[string]bool{b.entry: true}
	queue := []string{b.entry}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[n] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	if !visited[b.finish] {
		return nil, &GraphValidationError{Message: "finish node unreachable from entry: " + b.finish}
	}

	cond := make(map[string]ConditionalEdge[S], len(b.conditional))
	for _, ce := range b.conditional {
		cond[ce.From] = ce
	}
	static := make(map[string]string, len(b.edges))
	for _, e := range b.edges {
		// first declared unconditional edge wins
		if _, ok := static[e.From]; !ok {
			static[e.From] = e.To
		}
	}

	nodes := make(map[string]Node[S], len(b.nodes))
	for name, n := range b.nodes {
		nodes[name] = n
	}

	return &Compiled[S]{
		nodes:       nodes,
		static:      static,
		conditional: cond,
		entry:       b.entry,
		finish:      b.finish,
	}, nil
}

// Compiled is a validated, immutable workflow graph ready for execution.
type Compiled[S any] struct {
	nodes       map[string]Node[S]
	static      map[string]string
	conditional map[string]ConditionalEdge[S]
	entry       string
	finish      string
}

// Entry returns the entry node name.
func (g *Compiled[S]) Entry() string { return g.entry }

// Finish returns the sink node name.
func (g *Compiled[S]) Finish() string { return g.finish }

// Has reports whether a node with the given name is registered.
func (g *Compiled[S]) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// nextAfter resolves the successor of node after it produced state, applying
// conditional routing first and falling back to the static edge. The label
// taken (empty for static edges) is returned for observability.
func (g *Compiled[S]) nextAfter(node string, state S) (to, label string, err error) {
	if ce, ok := g.conditional[node]; ok {
		label = ce.Router(state)
		to, ok := ce.resolve(label)
		if !ok {
			return "", label, &RoutingError{Node: node, Label: label}
		}
		return to, label, nil
	}
	if to, ok := g.static[node]; ok {
		return to, "", nil
	}
	return "", "", &RoutingError{Node: node, Label: ""}
}
