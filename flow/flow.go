// Package flow wires the research domain onto the graph engine: the node
// handlers, conditional routers, graph variants, recovery policy and the
// streaming controller that turns engine updates into server-sent events.
package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/graph"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
	"github.com/arclabs-io/researchgraph/tool"
)

// Node names. These appear in visited_nodes, checkpoints and SSE payloads,
// so they are part of the external contract.
const (
	NodeInitialize       = "initialize"
	NodeContextAnalyzer  = "context_analyzer"
	NodeDecomposer       = "objective_decomposer"
	NodeTaskAnalyzer     = "task_analyzer"
	NodeResearch         = "research"
	NodeProcessing       = "processing"
	NodeQualityEvaluator = "quality_evaluator"
	NodeSelectNextTask   = "select_next_task"
	NodeSynthesis        = "synthesis"
	NodeFinalize         = "finalize"
	NodeErrorHandler     = "error_handler"
)

// WaitLabel is the routing label that makes the engine back off and re-enter
// select_next_task while tasks are blocked on unmet dependencies.
const WaitLabel = "wait"

const (
	// maxPlanAttempts bounds task_analyzer replanning per task before the
	// task is failed.
	maxPlanAttempts = 3

	// maxImproveRounds bounds the evaluator's improve loop per step before
	// the output is accepted as-is.
	maxImproveRounds = 2

	// maxNodeRetries bounds retries of a pre-execution node (analyzer,
	// decomposer) after a transient failure.
	maxNodeRetries = 3

	// maxPlanSteps caps the plan size; anything past it is noise.
	maxPlanSteps = 7
)

// Nodes holds the dependencies shared by every node handler. One Nodes value
// serves one graph variant; handlers are invoked sequentially per run but
// many runs may share the value, so handlers only mutate the State they are
// given.
type Nodes struct {
	kind   research.GraphKind
	agents *agent.Registry
	store  store.Store
	tools  *tool.Registry
	retry  graph.RetryPolicy
	log    *slog.Logger
}

// NewNodes creates the handler set for one graph variant. tools may be nil;
// the research node then skips its search pass.
func NewNodes(kind research.GraphKind, agents *agent.Registry, st store.Store, tools *tool.Registry, log *slog.Logger) *Nodes {
	if log == nil {
		log = slog.Default()
	}
	retry := graph.DefaultRetryPolicy()
	retry.Retryable = func(err error) bool {
		return research.Classify("", err).Type.Transient()
	}
	return &Nodes{kind: kind, agents: agents, store: st, tools: tools, retry: retry, log: log}
}

// runAgent invokes a registered agent, retrying transient failures in place
// so a single flaky LLM call does not bounce the whole run through the error
// handler.
func (n *Nodes) runAgent(ctx context.Context, name string, in agent.Input) (agent.Output, error) {
	var out agent.Output
	err := n.retry.Retry(ctx, func() error {
		var runErr error
		out, runErr = n.agents.Run(ctx, name, in)
		return runErr
	})
	return out, err
}

// execNodeFor picks the execution node for a task. The research and analysis
// variants are single-lane; the executor variants route by task type.
func (n *Nodes) execNodeFor(t *research.Task) string {
	switch n.kind {
	case research.GraphResearch:
		return NodeResearch
	case research.GraphAnalysis:
		return NodeProcessing
	}
	if t == nil {
		return NodeResearch
	}
	switch t.Type {
	case research.TaskTypeResearch, research.TaskTypeTesting:
		return NodeResearch
	default:
		return NodeProcessing
	}
}

// fail records a classified error on the state; the engine routes the result
// to the error handler.
func fail(s research.State, node string, err error) graph.NodeResult[research.State] {
	s.Fail(node, err)
	return graph.NodeResult[research.State]{State: s}
}

func ok(s research.State) graph.NodeResult[research.State] {
	return graph.NodeResult[research.State]{State: s}
}

// compactJSON renders v as a single-line JSON string for prompt templates.
func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// parseTaskType normalizes the decomposer's task_type field.
func parseTaskType(raw string) research.TaskType {
	switch research.TaskType(strings.ToUpper(strings.TrimSpace(raw))) {
	case research.TaskTypeResearch:
		return research.TaskTypeResearch
	case research.TaskTypeAnalysis:
		return research.TaskTypeAnalysis
	case research.TaskTypeDevelopment:
		return research.TaskTypeDevelopment
	case research.TaskTypeIntegration:
		return research.TaskTypeIntegration
	case research.TaskTypeTesting:
		return research.TaskTypeTesting
	case research.TaskTypeDocumentation:
		return research.TaskTypeDocumentation
	case research.TaskTypeEvaluation:
		return research.TaskTypeEvaluation
	default:
		return research.TaskTypeOther
	}
}

// parseQuality normalizes the evaluator's quality_level field. An
// unrecognized verdict is reported rather than guessed.
func parseQuality(raw string) (research.QualityLevel, bool) {
	q := research.QualityLevel(strings.ToUpper(strings.TrimSpace(raw)))
	switch q {
	case research.QualityExcellent, research.QualityGood, research.QualityAcceptable,
		research.QualityNeedsImprovement, research.QualityPoor:
		return q, true
	}
	return "", false
}

// lastEvalFor returns the most recent evaluation for the given target, or nil.
func lastEvalFor(s *research.State, targetID string) *research.Evaluation {
	hist := s.Intermediate.EvalHistory
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].TargetID == targetID {
			return &hist[i]
		}
	}
	return nil
}

// stepByID finds a step anywhere in the objective, used by routers that need
// the just-evaluated step after the cursor moved on.
func stepByID(o *research.Objective, id string) *research.Step {
	if o == nil || id == "" {
		return nil
	}
	for _, t := range o.Tasks {
		if st := t.Step(id); st != nil {
			return st
		}
	}
	return nil
}

// persistTask writes a task row and all of its step rows in the given
// transaction scope.
func persistTask(ctx context.Context, tx store.Store, t *research.Task) error {
	if err := tx.UpsertTask(ctx, t); err != nil {
		return err
	}
	for _, st := range t.Steps {
		if err := tx.UpsertStep(ctx, st); err != nil {
			return err
		}
	}
	return nil
}
