package flow

import (
	"context"

	"github.com/arclabs-io/researchgraph/graph"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
)

// Recovery actions recorded in the error history.
const (
	ActionRetryStep       = "retry_step"
	ActionRetryNode       = "retry_node"
	ActionSkipStep        = "skip_step"
	ActionFailTask        = "fail_task"
	ActionRestartWorkflow = "restart_workflow"
	ActionAbort           = "abort"
)

// restartKey tracks workflow restarts in the plan-attempts map; it cannot
// collide with task IDs, which are UUIDs.
const restartKey = "workflow:restart"

// ErrorHandler is the fault sink the engine routes to whenever a node sets
// state.error. It decides one recovery action, applies it, records it in the
// error history and clears the error so the engine can resume:
//
//   - transient errors retry the current step up to max_retries, then skip it
//   - transient errors before any step exists retry the failing node itself
//   - validation errors fail the current task (cancelling its dependents), or
//     restart the workflow once when no task exists yet
//   - everything else aborts the objective
func (n *Nodes) ErrorHandler(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeErrorHandler)
	fe := s.Error
	if fe == nil {
		return graph.NodeResult[research.State]{State: s, Route: graph.Goto(NodeFinalize)}
	}

	var (
		action string
		route  graph.Route
	)
	switch {
	case fe.Type.Transient():
		action, route = n.recoverTransient(&s, fe)
	case fe.Type == research.ErrTypeValidation:
		action, route = n.recoverValidation(&s, fe)
	default:
		action, route = n.abort(&s, fe)
	}

	s.Intermediate.RecordError(research.ErrorRecord{
		Node:    fe.Node,
		Type:    fe.Type,
		Message: fe.Message,
		Action:  action,
		At:      research.Now(),
	})
	s.ClearError()
	n.log.Info("recovery action",
		"node", fe.Node, "error_type", string(fe.Type), "action", action)

	err := n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertObjective(ctx, s.Objective); err != nil {
			return err
		}
		for _, t := range s.Objective.Tasks {
			if err := persistTask(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// recovery itself cannot recover; abort rather than loop
		n.log.Error("recovery persist failed", "error", err)
		_, route = n.abort(&s, research.Classify(NodeErrorHandler, err))
	}
	return graph.NodeResult[research.State]{State: s, Route: route}
}

// recoverTransient retries the current step until its retry budget runs out,
// then skips it. Failures before any step exists retry the failing node.
func (n *Nodes) recoverTransient(s *research.State, fe *research.FlowError) (string, graph.Route) {
	task := s.CurrentTask()
	step := s.CurrentStep()

	if task == nil || step == nil {
		// pre-execution failure (context analysis, decomposition, planning):
		// re-run the node itself a bounded number of times
		if !knownRetryNode(fe.Node) {
			return n.abort(s, fe)
		}
		if s.Intermediate.BumpPlanAttempts("node:"+fe.Node) > maxNodeRetries {
			return n.abort(s, fe)
		}
		return ActionRetryNode, graph.Goto(fe.Node)
	}

	if step.Status == research.StepRunning {
		_ = step.Transition(research.StepFailed)
	}
	step.ErrorMessage = fe.Message

	if step.Status == research.StepFailed && step.Retry() {
		task.Heartbeat()
		return ActionRetryStep, graph.Goto(n.execNodeFor(task))
	}
	if step.Status != research.StepFailed {
		// the step never started running; re-entering the execution node is
		// the retry
		if s.Intermediate.BumpPlanAttempts("node:"+fe.Node) > maxNodeRetries {
			return n.abort(s, fe)
		}
		return ActionRetryStep, graph.Goto(n.execNodeFor(task))
	}

	// Retry budget exhausted: skip the step and move on.
	_ = step.Transition(research.StepSkipped)
	if next := task.NextPendingStep(); next != nil {
		_ = next.Transition(research.StepReady)
		s.CurrentStepID = next.ID
		task.Heartbeat()
		return ActionSkipStep, graph.Goto(n.execNodeFor(task))
	}
	task.ResultSummary = taskSummary(task)
	_ = task.Transition(research.TaskCompleted)
	research.RecomputeReady(s.Objective)
	s.CurrentTaskID = ""
	s.CurrentStepID = ""
	return ActionSkipStep, graph.Goto(NodeSelectNextTask)
}

// recoverValidation fails the current task, or restarts the workflow once
// when validation broke before any task existed.
func (n *Nodes) recoverValidation(s *research.State, fe *research.FlowError) (string, graph.Route) {
	o := s.Objective

	if task := s.CurrentTask(); task != nil {
		for _, st := range task.Steps {
			switch st.Status {
			case research.StepPending, research.StepReady, research.StepRunning:
				_ = st.Transition(research.StepCancelled)
			}
		}
		task.ResultSummary = fe.Message
		_ = task.Transition(research.TaskFailed)
		cancelDependents(o, task)
		s.CurrentTaskID = ""
		s.CurrentStepID = ""
		return ActionFailTask, graph.Goto(NodeSelectNextTask)
	}

	if s.Intermediate.BumpPlanAttempts(restartKey) > 1 {
		return n.abort(s, fe)
	}
	if err := o.Transition(research.ObjectiveCreated); err != nil {
		return n.abort(s, fe)
	}
	o.Tasks = nil
	s.VisitedNodes = nil
	s.CurrentTaskID = ""
	s.CurrentStepID = ""
	s.Intermediate.ContextAnalysis = nil
	s.Intermediate.DependenciesByTitle = nil
	return ActionRestartWorkflow, graph.Goto(NodeInitialize)
}

func (n *Nodes) abort(s *research.State, fe *research.FlowError) (string, graph.Route) {
	o := s.Objective
	o.ErrorMessage = fe.Message
	if !o.Status.Terminal() {
		_ = o.Transition(research.ObjectiveFailed)
	}
	return ActionAbort, graph.Stop()
}

// cancelDependents cancels every task transitively depending on the failed
// one, so the objective can still reach a terminal task set and synthesize
// whatever completed.
func cancelDependents(o *research.Objective, failed *research.Task) {
	queue := []*research.Task{failed}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, depID := range t.Dependents(o) {
			dep := o.Task(depID)
			if dep == nil || dep.Status.Terminal() {
				continue
			}
			if dep.Status.CanTransition(research.TaskCancelled) {
				_ = dep.Transition(research.TaskCancelled)
			}
			queue = append(queue, dep)
		}
	}
}

// knownRetryNode reports whether a node name may be retried directly after a
// transient pre-execution failure.
func knownRetryNode(name string) bool {
	switch name {
	case NodeInitialize, NodeContextAnalyzer, NodeDecomposer, NodeTaskAnalyzer,
		NodeSelectNextTask, NodeSynthesis:
		return true
	}
	return false
}
