// Package agent defines the LLM-backed agents that execute workflow stages:
// context analysis, decomposition, planning, research, processing, evaluation
// and synthesis. Agents are provider-agnostic (model.ChatModel) and return
// structured JSON parsed with a repair fallback.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/arclabs-io/researchgraph/model"
)

// Input carries the variable bindings and optional prior conversation for
// one agent invocation.
type Input struct {
	// Vars binds template variables by name.
	Vars map[string]any

	// History is prior conversation spliced between the system prompt and
	// the rendered user prompt. Usually empty.
	History []model.Message
}

// Output is the result of one agent invocation.
type Output struct {
	// Text is the raw model response.
	Text string

	// JSON is the extracted (and possibly repaired) JSON payload, nil for
	// agents that produce plain text.
	JSON json.RawMessage

	// TokensUsed is the provider-reported token total.
	TokensUsed int
}

// Agent is one specialized workflow capability. Every concrete agent
// implements exactly this; the engine never probes for other methods.
type Agent interface {
	Name() string
	Run(ctx context.Context, in Input) (Output, error)
}

// Middleware wraps an Agent with cross-cutting behavior (logging, metrics,
// pool admission). Middlewares compose at registration time.
type Middleware func(Agent) Agent

// Registry holds named agents with their middleware already applied. Safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register stores the agent under name with middlewares applied innermost
// first, so the first middleware listed is the outermost wrapper.
func (r *Registry) Register(name string, a Agent, middlewares ...Middleware) {
	for i := len(middlewares) - 1; i >= 0; i-- {
		a = middlewares[i](a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = a
}

// Get returns the named agent, or an error listing what is registered.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q (registered: %v)", name, r.names())
	}
	return a, nil
}

// Run looks up and invokes the named agent.
func (r *Registry) Run(ctx context.Context, name string, in Input) (Output, error) {
	a, err := r.Get(name)
	if err != nil {
		return Output{}, err
	}
	return a.Run(ctx, in)
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
