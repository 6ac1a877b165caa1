// Package tool provides executable tools the research agents invoke during
// task execution: web search, page fetching and generic HTTP requests.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is an executable capability. Implementations validate their input,
// respect context cancellation, and return structured output.
type Tool interface {
	// Name is the unique tool identifier, lowercase with underscores, and
	// must match the name agents reference in their tool specs.
	Name() string

	// Call executes the tool. input may be nil for parameterless tools;
	// its shape follows the tool's declared schema.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Registry holds the tools available to agents, keyed by name. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a Registry containing the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or an error listing what is available.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q (available: %v)", name, r.names())
	}
	return t, nil
}

// Call looks up and executes the named tool.
func (r *Registry) Call(ctx context.Context, name string, input map[string]interface{}) (map[string]interface{}, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, input)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
