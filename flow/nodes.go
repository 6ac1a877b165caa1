package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/graph"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
)

// Initialize persists the freshly seeded objective so every later node can
// assume a durable row exists.
func (n *Nodes) Initialize(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeInitialize)
	if s.Objective == nil {
		return fail(s, NodeInitialize, &research.StateError{Message: "state has no objective"})
	}
	err := n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.UpsertObjective(ctx, s.Objective)
	})
	if err != nil {
		return fail(s, NodeInitialize, err)
	}
	return ok(s)
}

// ContextAnalyzer characterizes the raw query and moves the objective into
// ANALYZING.
func (n *Nodes) ContextAnalyzer(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeContextAnalyzer)
	o := s.Objective
	if err := o.Transition(research.ObjectiveAnalyzing); err != nil {
		return fail(s, NodeContextAnalyzer, err)
	}

	additional := ""
	if v, okv := o.Metadata["additional_context"].(string); okv {
		additional = v
	}
	out, err := n.runAgent(ctx, agent.NameContextAnalyzer, agent.Input{Vars: map[string]any{
		"Query":             o.Query,
		"Locale":            s.Locale,
		"AdditionalContext": additional,
	}})
	if err != nil {
		return fail(s, NodeContextAnalyzer, err)
	}

	var ca research.ContextAnalysis
	if err := agent.Decode(agent.NameContextAnalyzer, out, &ca); err != nil {
		return fail(s, NodeContextAnalyzer, err)
	}
	if ca.Complexity < 1 {
		ca.Complexity = 1
	}
	if ca.Complexity > 5 {
		ca.Complexity = 5
	}
	s.Intermediate.ContextAnalysis = &ca
	s.AddMessage("assistant", agent.NameContextAnalyzer, out.Text)

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.UpsertObjective(ctx, o)
	})
	if err != nil {
		return fail(s, NodeContextAnalyzer, err)
	}
	return ok(s)
}

// ObjectiveDecomposer breaks the objective into tasks with symbolic
// dependencies, resolves them into task IDs and rejects cyclic plans.
func (n *Nodes) ObjectiveDecomposer(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeDecomposer)
	o := s.Objective
	if err := o.Transition(research.ObjectiveDecomposing); err != nil {
		return fail(s, NodeDecomposer, err)
	}

	prior := "none"
	for i := len(s.Intermediate.ErrorHistory) - 1; i >= 0; i-- {
		if rec := s.Intermediate.ErrorHistory[i]; rec.Node == NodeDecomposer {
			prior = rec.Message
			break
		}
	}
	out, err := n.runAgent(ctx, agent.NameObjectiveDecomposer, agent.Input{Vars: map[string]any{
		"Query":           o.Query,
		"ContextAnalysis": compactJSON(s.Intermediate.ContextAnalysis),
		"PriorAttempts":   prior,
	}})
	if err != nil {
		return fail(s, NodeDecomposer, err)
	}

	var dec agent.DecompositionOutput
	if err := agent.Decode(agent.NameObjectiveDecomposer, out, &dec); err != nil {
		return fail(s, NodeDecomposer, err)
	}
	if len(dec.Tasks) == 0 {
		return fail(s, NodeDecomposer, &research.AgentError{
			Agent: agent.NameObjectiveDecomposer, Message: "decomposition produced no tasks",
		})
	}

	symbolic := make(map[string][]string, len(dec.Tasks))
	for _, dt := range dec.Tasks {
		t := research.NewTask(o.ID, dt.Title, dt.Description, parseTaskType(dt.TaskType), dt.Priority)
		if dt.EstimatedSteps > 0 {
			t.Metadata = map[string]any{"estimated_steps": dt.EstimatedSteps}
		}
		o.Tasks = append(o.Tasks, t)
		symbolic[dt.Title] = dt.DependsOn
	}
	deps, err := research.ResolveDependencies(o, symbolic)
	if err != nil {
		// cyclic or dangling dependencies: the decomposition is invalid and
		// the half-built task list must not survive into a retry
		o.Tasks = nil
		return fail(s, NodeDecomposer, err)
	}
	s.Intermediate.DependenciesByTitle = deps

	if err := o.Transition(research.ObjectivePlanning); err != nil {
		return fail(s, NodeDecomposer, err)
	}
	s.AddMessage("assistant", agent.NameObjectiveDecomposer, out.Text)

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertObjective(ctx, o); err != nil {
			return err
		}
		for _, t := range o.Tasks {
			if err := tx.UpsertTask(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(s, NodeDecomposer, err)
	}
	return ok(s)
}

// TaskAnalyzer plans the steps for the current task (or the highest-priority
// READY task when no cursor is set), inserts them PENDING with the first
// flipped to READY, and moves the task to RUNNING.
func (n *Nodes) TaskAnalyzer(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeTaskAnalyzer)
	o := s.Objective

	if s.CurrentTaskID == "" {
		ready := o.ReadyTasks()
		if len(ready) == 0 {
			return fail(s, NodeTaskAnalyzer, &research.StateError{Message: "task_analyzer entered with no ready task"})
		}
		s.CurrentTaskID = ready[0].ID
	}
	task := s.CurrentTask()
	if task == nil {
		return fail(s, NodeTaskAnalyzer, &research.StateError{Message: "current task not found: " + s.CurrentTaskID})
	}

	if attempts := s.Intermediate.BumpPlanAttempts(task.ID); attempts > maxPlanAttempts {
		return fail(s, NodeTaskAnalyzer, &research.ValidationError{
			Message: fmt.Sprintf("task %q exhausted its %d planning attempts", task.Title, maxPlanAttempts),
		})
	}

	// Replanning discards whatever remains of the previous plan.
	if task.Status == research.TaskRunning {
		for _, st := range task.Steps {
			switch st.Status {
			case research.StepPending, research.StepReady, research.StepRunning:
				_ = st.Transition(research.StepCancelled)
			case research.StepFailed:
				_ = st.Transition(research.StepSkipped)
			}
		}
	}

	feedback := "none"
	if ev := lastEvalFor(&s, s.CurrentStepID); ev != nil && ev.Feedback != "" {
		feedback = ev.Feedback
	}
	out, err := n.runAgent(ctx, agent.NameTaskAnalyzer, agent.Input{Vars: map[string]any{
		"TaskTitle":       task.Title,
		"TaskDescription": task.Description,
		"TaskType":        string(task.Type),
		"Query":           o.Query,
		"ContextAnalysis": compactJSON(s.Intermediate.ContextAnalysis),
		"PriorFeedback":   feedback,
	}})
	if err != nil {
		return fail(s, NodeTaskAnalyzer, err)
	}

	var plan agent.PlanOutput
	if err := agent.Decode(agent.NameTaskAnalyzer, out, &plan); err != nil {
		return fail(s, NodeTaskAnalyzer, err)
	}
	if len(plan.Steps) == 0 {
		return fail(s, NodeTaskAnalyzer, &research.AgentError{
			Agent: agent.NameTaskAnalyzer, Message: "plan has no steps for task " + task.Title,
		})
	}
	if len(plan.Steps) > maxPlanSteps {
		plan.Steps = plan.Steps[:maxPlanSteps]
	}

	execAgent := agent.NameResearch
	if n.execNodeFor(task) == NodeProcessing {
		execAgent = agent.NameProcessing
	}
	var first *research.Step
	for _, p := range plan.Steps {
		name := p.AgentName
		if name != agent.NameResearch && name != agent.NameProcessing {
			name = execAgent
		}
		st := research.NewStep(task.ID, p.Title, p.Description, name)
		st.StepType = p.StepType
		task.Steps = append(task.Steps, st)
		if first == nil {
			first = st
		}
	}
	if err := first.Transition(research.StepReady); err != nil {
		return fail(s, NodeTaskAnalyzer, err)
	}
	s.CurrentStepID = first.ID

	if task.Status != research.TaskRunning {
		if err := task.Transition(research.TaskRunning); err != nil {
			return fail(s, NodeTaskAnalyzer, err)
		}
	}
	if o.Status == research.ObjectivePlanning {
		if err := o.Transition(research.ObjectiveExecuting); err != nil {
			return fail(s, NodeTaskAnalyzer, err)
		}
	}
	s.AddMessage("assistant", agent.NameTaskAnalyzer, out.Text)

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertObjective(ctx, o); err != nil {
			return err
		}
		return persistTask(ctx, tx, task)
	})
	if err != nil {
		return fail(s, NodeTaskAnalyzer, err)
	}
	return ok(s)
}

// Research executes the current step with the research agent, optionally
// feeding web search results into the prompt.
func (n *Nodes) Research(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	return n.runStep(ctx, s, NodeResearch, agent.NameResearch)
}

// Processing executes the current step with the processing agent.
func (n *Nodes) Processing(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	return n.runStep(ctx, s, NodeProcessing, agent.NameProcessing)
}

func (n *Nodes) runStep(ctx context.Context, s research.State, node, agentName string) graph.NodeResult[research.State] {
	s.Visit(node)
	task := s.CurrentTask()
	step := s.CurrentStep()
	if task == nil || step == nil {
		return fail(s, node, &research.StateError{Message: node + " entered without a current step"})
	}
	if step.Status == research.StepReady {
		if err := step.Transition(research.StepRunning); err != nil {
			return fail(s, node, err)
		}
	}

	vars := map[string]any{
		"StepTitle":           step.Title,
		"StepDescription":     step.Description,
		"TaskTitle":           task.Title,
		"Query":               s.Objective.Query,
		"ImprovementFeedback": "none",
	}
	if ev := lastEvalFor(&s, step.ID); ev != nil && ev.Feedback != "" {
		vars["ImprovementFeedback"] = ev.Feedback
	}

	switch node {
	case NodeResearch:
		vars["ToolResults"] = n.searchFor(ctx, step)
	case NodeProcessing:
		vars["PriorOutputs"] = priorOutputs(task, step.ID)
	}

	out, err := n.runAgent(ctx, agentName, agent.Input{Vars: vars})
	if err != nil {
		return fail(s, node, err)
	}

	switch node {
	case NodeResearch:
		var res agent.ResearchOutput
		if err := agent.Decode(agentName, out, &res); err != nil {
			return fail(s, node, err)
		}
		step.OutputData = map[string]any{"summary": res.Summary, "findings": res.Findings, "sources": res.Sources}
	case NodeProcessing:
		var res agent.ProcessingOutput
		if err := agent.Decode(agentName, out, &res); err != nil {
			return fail(s, node, err)
		}
		step.OutputData = map[string]any{"summary": res.Summary, "result": res.Result}
	}

	task.Heartbeat()
	s.AddMessage("assistant", agentName, out.Text)
	graph.PublishChunk(ctx, agentName, out.Text)

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertStep(ctx, step); err != nil {
			return err
		}
		return tx.UpsertTask(ctx, task)
	})
	if err != nil {
		return fail(s, node, err)
	}
	return ok(s)
}

// searchFor runs the web_search tool for a research step when a tool registry
// is configured. Search failures degrade to an unassisted prompt; they never
// fail the step.
func (n *Nodes) searchFor(ctx context.Context, step *research.Step) string {
	if n.tools == nil {
		return "none"
	}
	args := map[string]interface{}{"query": step.Title}
	graph.PublishChunk(ctx, "toolcall:web_search", compactJSON(args))
	res, err := n.tools.Call(ctx, "web_search", args)
	if err != nil {
		n.log.Debug("search skipped", "step_id", step.ID, "error", err)
		return "none"
	}
	out := compactJSON(res)
	for off := 0; off < len(out); off += toolChunkSize {
		end := off + toolChunkSize
		if end > len(out) {
			end = len(out)
		}
		graph.PublishChunk(ctx, "toolchunk:web_search", out[off:end])
	}
	graph.PublishChunk(ctx, "tool:web_search", out)
	return out
}

// toolChunkSize bounds one tool_call_chunks frame so large search payloads
// stream instead of arriving as a single oversized SSE event.
const toolChunkSize = 2048

// priorOutputs collects the summaries of the task's already-completed steps
// so the processing agent sees what it is building on.
func priorOutputs(task *research.Task, beforeStepID string) string {
	var b strings.Builder
	for _, st := range task.Steps {
		if st.ID == beforeStepID {
			break
		}
		if st.Status != research.StepCompleted {
			continue
		}
		if sum, okv := st.OutputData["summary"].(string); okv && sum != "" {
			fmt.Fprintf(&b, "- %s: %s\n", st.Title, sum)
		}
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}

// QualityEvaluator scores the current step's output and applies the verdict:
// a passing level completes the step (and possibly the task), a poor level
// fails it for replanning, and NEEDS_IMPROVEMENT re-runs it up to the
// improvement budget.
func (n *Nodes) QualityEvaluator(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeQualityEvaluator)
	task := s.CurrentTask()
	step := s.CurrentStep()
	if task == nil || step == nil {
		return fail(s, NodeQualityEvaluator, &research.StateError{Message: "quality_evaluator entered without a current step"})
	}

	out, err := n.runAgent(ctx, agent.NameQualityEvaluator, agent.Input{Vars: map[string]any{
		"Instruction": step.Description,
		"Output":      compactJSON(step.OutputData),
		"Query":       s.Objective.Query,
	}})
	if err != nil {
		return fail(s, NodeQualityEvaluator, err)
	}
	var eval agent.EvaluationOutput
	if err := agent.Decode(agent.NameQualityEvaluator, out, &eval); err != nil {
		return fail(s, NodeQualityEvaluator, err)
	}
	level, valid := parseQuality(eval.QualityLevel)
	if !valid {
		return fail(s, NodeQualityEvaluator, &research.AgentError{
			Agent: agent.NameQualityEvaluator, Message: "unknown quality level " + eval.QualityLevel,
		})
	}
	if eval.Score < 0 {
		eval.Score = 0
	}
	if eval.Score > 10 {
		eval.Score = 10
	}

	s.Intermediate.RecordEval(research.Evaluation{
		TargetID:    step.ID,
		TargetKind:  "step",
		Score:       eval.Score,
		Level:       level,
		Feedback:    eval.Feedback,
		Suggestions: eval.ImprovementSuggestions,
		At:          research.Now(),
	})
	step.Quality = level

	// The improvement loop is bounded; once exhausted the output is taken
	// as-is rather than spending the whole step budget on one step.
	if level == research.QualityNeedsImprovement &&
		s.Intermediate.BumpImproveRounds(step.ID) > maxImproveRounds {
		level = research.QualityAcceptable
	}

	var changed []*research.Task
	switch {
	case level.Passing():
		if err := n.completeStep(&s, task, step, level); err != nil {
			return fail(s, NodeQualityEvaluator, err)
		}
		if task.Status == research.TaskCompleted {
			changed = research.RecomputeReady(s.Objective)
		}
	case level == research.QualityPoor:
		step.ErrorMessage = eval.Feedback
		if err := step.Transition(research.StepFailed); err != nil {
			return fail(s, NodeQualityEvaluator, err)
		}
	default:
		// NEEDS_IMPROVEMENT: the step stays RUNNING and the router sends
		// execution back through it with the feedback in the prompt.
	}

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := persistTask(ctx, tx, task); err != nil {
			return err
		}
		for _, t := range changed {
			if err := tx.UpsertTask(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(s, NodeQualityEvaluator, err)
	}
	return ok(s)
}

// completeStep finishes the current step and advances the cursor: next
// pending step becomes READY, or the task completes and the cursors clear.
func (n *Nodes) completeStep(s *research.State, task *research.Task, step *research.Step, level research.QualityLevel) error {
	if err := step.Transition(research.StepCompleted); err != nil {
		return err
	}
	if next := task.NextPendingStep(); next != nil {
		if err := next.Transition(research.StepReady); err != nil {
			return err
		}
		s.CurrentStepID = next.ID
		task.Heartbeat()
		return nil
	}
	task.Quality = level
	task.ResultSummary = taskSummary(task)
	if err := task.Transition(research.TaskCompleted); err != nil {
		return err
	}
	s.CurrentTaskID = ""
	s.CurrentStepID = ""
	return nil
}

// taskSummary joins the completed steps' summaries into the task's result.
func taskSummary(task *research.Task) string {
	var parts []string
	for _, st := range task.Steps {
		if st.Status != research.StepCompleted {
			continue
		}
		if sum, okv := st.OutputData["summary"].(string); okv && sum != "" {
			parts = append(parts, sum)
		}
	}
	return strings.Join(parts, " ")
}

// SelectNextTask advances the objective-level cursor: continue the running
// task, pick the next READY task, move to synthesis when everything is
// terminal, or wait for dependencies.
func (n *Nodes) SelectNextTask(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeSelectNextTask)
	o := s.Objective

	// A running task with a live step continues; nothing to select.
	if t := s.CurrentTask(); t != nil && t.Status == research.TaskRunning {
		if st := s.CurrentStep(); st != nil && !st.Status.Terminal() {
			return ok(s)
		}
	}

	if ready := o.ReadyTasks(); len(ready) > 0 {
		s.CurrentTaskID = ready[0].ID
		s.CurrentStepID = ""
		return ok(s)
	}

	if o.AllTasksTerminal() {
		if o.Status != research.ObjectiveSynthesizing {
			if err := o.Transition(research.ObjectiveSynthesizing); err != nil {
				return fail(s, NodeSelectNextTask, err)
			}
		}
		err := n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
			return tx.UpsertObjective(ctx, o)
		})
		if err != nil {
			return fail(s, NodeSelectNextTask, err)
		}
		return ok(s)
	}

	// Tasks remain PENDING on unmet dependencies; the router yields the wait
	// label and the engine re-enters after its backoff.
	return ok(s)
}

// Synthesis writes the final report from the completed tasks' outputs and
// completes the objective.
func (n *Nodes) Synthesis(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeSynthesis)
	o := s.Objective
	if o.Status != research.ObjectiveSynthesizing {
		if err := o.Transition(research.ObjectiveSynthesizing); err != nil {
			return fail(s, NodeSynthesis, err)
		}
	}

	var b strings.Builder
	for _, t := range o.Tasks {
		if t.Status != research.TaskCompleted {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n", t.Title, t.ResultSummary)
	}
	taskOutputs := b.String()
	if taskOutputs == "" {
		taskOutputs = "No task produced output."
	}

	out, err := n.runAgent(ctx, agent.NameSynthesis, agent.Input{Vars: map[string]any{
		"Query":       o.Query,
		"Locale":      s.Locale,
		"TaskOutputs": taskOutputs,
	}})
	if err != nil {
		return fail(s, NodeSynthesis, err)
	}
	var syn agent.SynthesisOutput
	if err := agent.Decode(agent.NameSynthesis, out, &syn); err != nil {
		return fail(s, NodeSynthesis, err)
	}

	s.Intermediate.SynthesisResult = &research.SynthesisResult{
		Report:      syn.Report,
		KeyFindings: syn.KeyFindings,
		Sources:     syn.Sources,
	}
	o.ResultSummary = syn.Report
	if err := o.Transition(research.ObjectiveCompleted); err != nil {
		return fail(s, NodeSynthesis, err)
	}
	s.AddMessage("assistant", agent.NameSynthesis, syn.Report)
	graph.PublishChunk(ctx, agent.NameSynthesis, syn.Report)

	err = n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.UpsertObjective(ctx, o)
	})
	if err != nil {
		return fail(s, NodeSynthesis, err)
	}
	return ok(s)
}

// Finalize is the terminal sink. It persists the objective one last time so
// the stored row always matches the final streamed state.
func (n *Nodes) Finalize(ctx context.Context, s research.State) graph.NodeResult[research.State] {
	s.Visit(NodeFinalize)
	err := n.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.UpsertObjective(ctx, s.Objective)
	})
	if err != nil {
		n.log.Warn("final objective persist failed", "objective_id", s.Objective.ID, "error", err)
	}
	return ok(s)
}
