package flow

import (
	"context"
	"testing"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
)

func freshState(query string) research.State {
	obj := research.NewObjective(query, query, 5)
	return research.State{
		WorkflowID:   "wf-test",
		WorkflowKind: research.GraphExecutor,
		Objective:    obj,
	}
}

func TestContextAnalyzer(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat(respContext))
	s := freshState("how do caches work")

	res := n.ContextAnalyzer(context.Background(), s)
	out := res.State
	if out.Error != nil {
		t.Fatalf("unexpected error: %v", out.Error)
	}
	if out.Objective.Status != research.ObjectiveAnalyzing {
		t.Errorf("status = %s, want ANALYZING", out.Objective.Status)
	}
	ca := out.Intermediate.ContextAnalysis
	if ca == nil {
		t.Fatal("context analysis not recorded")
	}
	if ca.Domain != "software" || ca.Complexity != 2 {
		t.Errorf("analysis = %+v", ca)
	}

	stored, err := st.GetObjective(context.Background(), out.Objective.ID)
	if err != nil {
		t.Fatalf("objective not persisted: %v", err)
	}
	if stored.Status != research.ObjectiveAnalyzing {
		t.Errorf("persisted status = %s, want ANALYZING", stored.Status)
	}
}

func TestContextAnalyzer_ClampsComplexity(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st,
		chat(`{"domain":"x","complexity":11}`))
	s := freshState("q")

	out := n.ContextAnalyzer(context.Background(), s).State
	if out.Error != nil {
		t.Fatalf("unexpected error: %v", out.Error)
	}
	if got := out.Intermediate.ContextAnalysis.Complexity; got != 5 {
		t.Errorf("complexity = %d, want clamped to 5", got)
	}
}

func TestObjectiveDecomposer(t *testing.T) {
	t.Run("resolves dependencies and readies roots", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat(respTwoTasksChained))
		s := freshState("q")
		s.Objective.Status = research.ObjectiveAnalyzing

		out := n.ObjectiveDecomposer(context.Background(), s).State
		if out.Error != nil {
			t.Fatalf("unexpected error: %v", out.Error)
		}
		o := out.Objective
		if o.Status != research.ObjectivePlanning {
			t.Errorf("status = %s, want PLANNING", o.Status)
		}
		if len(o.Tasks) != 2 {
			t.Fatalf("tasks = %d, want 2", len(o.Tasks))
		}
		root, dep := o.Tasks[0], o.Tasks[1]
		if root.Status != research.TaskReady {
			t.Errorf("root task status = %s, want READY", root.Status)
		}
		if dep.Status != research.TaskPending {
			t.Errorf("dependent task status = %s, want PENDING", dep.Status)
		}
		if len(dep.DependsOn) != 1 || dep.DependsOn[0] != root.ID {
			t.Errorf("depends_on = %v, want [%s]", dep.DependsOn, root.ID)
		}
		if dep.Type != research.TaskTypeDocumentation {
			t.Errorf("task type = %s, want DOCUMENTATION", dep.Type)
		}
	})

	t.Run("rejects cyclic decomposition", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat(`{"tasks":[
			{"title":"A","description":"a","task_type":"RESEARCH","priority":5,"depends_on":["B"]},
			{"title":"B","description":"b","task_type":"RESEARCH","priority":5,"depends_on":["A"]}
		]}`))
		s := freshState("q")
		s.Objective.Status = research.ObjectiveAnalyzing

		out := n.ObjectiveDecomposer(context.Background(), s).State
		if out.Error == nil {
			t.Fatal("expected a validation error for the cycle")
		}
		if out.Error.Type != research.ErrTypeValidation {
			t.Errorf("error type = %s, want Validation", out.Error.Type)
		}
		if len(out.Objective.Tasks) != 0 {
			t.Errorf("half-built task list survived: %d tasks", len(out.Objective.Tasks))
		}
	})

	t.Run("empty decomposition is an agent error", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat(`{"tasks":[]}`))
		s := freshState("q")
		s.Objective.Status = research.ObjectiveAnalyzing

		out := n.ObjectiveDecomposer(context.Background(), s).State
		if out.Error == nil || out.Error.Type != research.ErrTypeAgent {
			t.Fatalf("error = %v, want Agent error", out.Error)
		}
	})
}

func TestTaskAnalyzer(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat(respPlanTwoSteps))

	s := freshState("q")
	o := s.Objective
	o.Status = research.ObjectivePlanning
	task := research.NewTask(o.ID, "T1", "d", research.TaskTypeResearch, 5)
	task.Status = research.TaskReady
	o.Tasks = []*research.Task{task}

	out := n.TaskAnalyzer(context.Background(), s).State
	if out.Error != nil {
		t.Fatalf("unexpected error: %v", out.Error)
	}
	if out.CurrentTaskID != task.ID {
		t.Errorf("current task = %q, want %q", out.CurrentTaskID, task.ID)
	}
	if task.Status != research.TaskRunning {
		t.Errorf("task status = %s, want RUNNING", task.Status)
	}
	if o.Status != research.ObjectiveExecuting {
		t.Errorf("objective status = %s, want EXECUTING", o.Status)
	}
	if len(task.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(task.Steps))
	}
	if task.Steps[0].Status != research.StepReady {
		t.Errorf("first step = %s, want READY", task.Steps[0].Status)
	}
	if task.Steps[1].Status != research.StepPending {
		t.Errorf("second step = %s, want PENDING", task.Steps[1].Status)
	}
	if out.CurrentStepID != task.Steps[0].ID {
		t.Errorf("current step = %q, want first step", out.CurrentStepID)
	}
	if out.Intermediate.PlanAttempts[task.ID] != 1 {
		t.Errorf("plan attempts = %d, want 1", out.Intermediate.PlanAttempts[task.ID])
	}
}

func TestTaskAnalyzer_ReplanBudget(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat(respPlanOneStep))

	s := freshState("q")
	o := s.Objective
	o.Status = research.ObjectiveExecuting
	task := research.NewTask(o.ID, "T1", "d", research.TaskTypeResearch, 5)
	task.Status = research.TaskRunning
	o.Tasks = []*research.Task{task}
	s.CurrentTaskID = task.ID
	s.Intermediate.PlanAttempts = map[string]int{task.ID: maxPlanAttempts}

	out := n.TaskAnalyzer(context.Background(), s).State
	if out.Error == nil || out.Error.Type != research.ErrTypeValidation {
		t.Fatalf("error = %v, want Validation after exhausted replans", out.Error)
	}
}

func TestRunStep_Research(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat(respResearchStep))
	s := seedObjectiveState(t, st)

	out := n.Research(context.Background(), s).State
	if out.Error != nil {
		t.Fatalf("unexpected error: %v", out.Error)
	}
	step := out.CurrentStep()
	if step.Status != research.StepRunning {
		t.Errorf("step status = %s, want RUNNING until evaluated", step.Status)
	}
	if got, _ := step.OutputData["summary"].(string); got != "found three cache designs" {
		t.Errorf("summary = %q", got)
	}
}

func TestQualityEvaluator(t *testing.T) {
	run := func(t *testing.T, evalResp string) (research.State, *Nodes) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat(evalResp))
		s := seedObjectiveState(t, st)
		s.CurrentStep().OutputData = map[string]any{"summary": "draft output"}
		out := n.QualityEvaluator(context.Background(), s).State
		if out.Error != nil {
			t.Fatalf("unexpected error: %v", out.Error)
		}
		return out, n
	}

	t.Run("pass completes the step and the single-step task", func(t *testing.T) {
		out, n := run(t, respEvalGood)
		task := out.Objective.Tasks[0]
		step := task.Steps[0]
		if step.Status != research.StepCompleted {
			t.Errorf("step status = %s, want COMPLETED", step.Status)
		}
		if step.Quality != research.QualityGood {
			t.Errorf("step quality = %s, want GOOD", step.Quality)
		}
		if task.Status != research.TaskCompleted {
			t.Errorf("task status = %s, want COMPLETED", task.Status)
		}
		if out.CurrentTaskID != "" || out.CurrentStepID != "" {
			t.Error("cursors should clear when the task completes")
		}
		if got := n.EvaluatorRouter(out); got != LabelPass {
			t.Errorf("router label = %q, want pass", got)
		}
	})

	t.Run("poor fails the step for replanning", func(t *testing.T) {
		out, n := run(t, respEvalPoor)
		step := out.Objective.Tasks[0].Steps[0]
		if step.Status != research.StepFailed {
			t.Errorf("step status = %s, want FAILED", step.Status)
		}
		if step.ErrorMessage == "" {
			t.Error("feedback should land in the step error message")
		}
		if got := n.EvaluatorRouter(out); got != LabelFail {
			t.Errorf("router label = %q, want fail", got)
		}
	})

	t.Run("needs improvement re-runs the step", func(t *testing.T) {
		out, n := run(t, respEvalNeedsWork)
		step := out.Objective.Tasks[0].Steps[0]
		if step.Status != research.StepRunning {
			t.Errorf("step status = %s, want RUNNING for another round", step.Status)
		}
		if out.Intermediate.ImproveRounds[step.ID] != 1 {
			t.Errorf("improve rounds = %d, want 1", out.Intermediate.ImproveRounds[step.ID])
		}
		if got := n.EvaluatorRouter(out); got != NodeResearch {
			t.Errorf("router label = %q, want %q", got, NodeResearch)
		}
	})

	t.Run("improvement budget forces acceptance", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat(respEvalNeedsWork))
		s := seedObjectiveState(t, st)
		step := s.CurrentStep()
		step.OutputData = map[string]any{"summary": "still mediocre"}
		s.Intermediate.ImproveRounds = map[string]int{step.ID: maxImproveRounds}

		out := n.QualityEvaluator(context.Background(), s).State
		if out.Error != nil {
			t.Fatalf("unexpected error: %v", out.Error)
		}
		if got := out.Objective.Tasks[0].Steps[0].Status; got != research.StepCompleted {
			t.Errorf("step status = %s, want COMPLETED once the budget is spent", got)
		}
	})
}

func TestSelectRouter(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat())

	t.Run("running task with live step continues", func(t *testing.T) {
		s := seedObjectiveState(t, st)
		if got := n.SelectRouter(s); got != NodeResearch {
			t.Errorf("label = %q, want %q", got, NodeResearch)
		}
	})

	t.Run("ready task is planned next", func(t *testing.T) {
		s := freshState("q")
		task := research.NewTask(s.Objective.ID, "T1", "d", research.TaskTypeAnalysis, 5)
		task.Status = research.TaskReady
		s.Objective.Tasks = []*research.Task{task}
		s.CurrentTaskID = task.ID
		if got := n.SelectRouter(s); got != LabelNext {
			t.Errorf("label = %q, want next", got)
		}
	})

	t.Run("synthesizing objective routes to synthesis", func(t *testing.T) {
		s := freshState("q")
		s.Objective.Status = research.ObjectiveSynthesizing
		if got := n.SelectRouter(s); got != LabelSynthesize {
			t.Errorf("label = %q, want synthesize", got)
		}
	})

	t.Run("pending dependencies wait", func(t *testing.T) {
		s := freshState("q")
		blocked := research.NewTask(s.Objective.ID, "T2", "d", research.TaskTypeResearch, 5)
		blocked.DependsOn = []string{"someone-else"}
		s.Objective.Tasks = []*research.Task{blocked}
		if got := n.SelectRouter(s); got != WaitLabel {
			t.Errorf("label = %q, want wait", got)
		}
	})
}

func TestSelectNextTask_PicksHighestPriorityReady(t *testing.T) {
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat())

	s := freshState("q")
	o := s.Objective
	o.Status = research.ObjectiveExecuting
	low := research.NewTask(o.ID, "low", "d", research.TaskTypeResearch, 2)
	low.Status = research.TaskReady
	high := research.NewTask(o.ID, "high", "d", research.TaskTypeResearch, 9)
	high.Status = research.TaskReady
	o.Tasks = []*research.Task{low, high}

	out := n.SelectNextTask(context.Background(), s).State
	if out.Error != nil {
		t.Fatalf("unexpected error: %v", out.Error)
	}
	if out.CurrentTaskID != high.ID {
		t.Errorf("selected %q, want the high-priority task", out.CurrentTaskID)
	}
}

func TestErrorHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("transient error retries the step", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat())
		s := seedObjectiveState(t, st)
		s.Fail(NodeResearch, &research.AgentError{Agent: "research", Message: "llm unreachable"})

		res := n.ErrorHandler(ctx, s)
		out := res.State
		if out.Error != nil {
			t.Fatal("error should be cleared")
		}
		step := out.Objective.Tasks[0].Steps[0]
		if step.Status != research.StepReady {
			t.Errorf("step status = %s, want READY for retry", step.Status)
		}
		if step.RetryCount != 1 {
			t.Errorf("retry count = %d, want 1", step.RetryCount)
		}
		if res.Route.To != NodeResearch {
			t.Errorf("route = %q, want %q", res.Route.To, NodeResearch)
		}
		recs := out.Intermediate.ErrorHistory
		if len(recs) != 1 || recs[0].Action != ActionRetryStep {
			t.Errorf("history = %+v, want one retry_step record", recs)
		}
	})

	t.Run("exhausted retries skip the step and complete the task", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat())
		s := seedObjectiveState(t, st)
		step := s.CurrentStep()
		step.RetryCount = step.MaxRetries
		s.Fail(NodeResearch, &research.AgentError{Agent: "research", Message: "still down"})

		res := n.ErrorHandler(ctx, s)
		out := res.State
		if got := out.Objective.Tasks[0].Steps[0].Status; got != research.StepSkipped {
			t.Errorf("step status = %s, want SKIPPED", got)
		}
		if got := out.Objective.Tasks[0].Status; got != research.TaskCompleted {
			t.Errorf("task status = %s, want COMPLETED (all steps terminal)", got)
		}
		if res.Route.To != NodeSelectNextTask {
			t.Errorf("route = %q, want select_next_task", res.Route.To)
		}
		if out.Intermediate.ErrorHistory[0].Action != ActionSkipStep {
			t.Errorf("action = %s, want skip_step", out.Intermediate.ErrorHistory[0].Action)
		}
	})

	t.Run("validation error fails the task and cancels dependents", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat())
		s := seedObjectiveState(t, st)
		o := s.Objective
		dep := research.NewTask(o.ID, "dependent", "d", research.TaskTypeAnalysis, 5)
		dep.DependsOn = []string{o.Tasks[0].ID}
		o.Tasks = append(o.Tasks, dep)
		s.Fail(NodeTaskAnalyzer, &research.ValidationError{Message: "replan budget exhausted"})

		res := n.ErrorHandler(ctx, s)
		out := res.State
		if got := out.Objective.Tasks[0].Status; got != research.TaskFailed {
			t.Errorf("task status = %s, want FAILED", got)
		}
		if got := out.Objective.Tasks[1].Status; got != research.TaskCancelled {
			t.Errorf("dependent status = %s, want CANCELLED", got)
		}
		if res.Route.To != NodeSelectNextTask {
			t.Errorf("route = %q, want select_next_task", res.Route.To)
		}
	})

	t.Run("unknown error aborts the objective", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat())
		s := seedObjectiveState(t, st)
		s.Fail(NodeSynthesis, &research.StateError{Message: "invariant broken"})

		res := n.ErrorHandler(ctx, s)
		out := res.State
		if !res.Route.Terminal {
			t.Error("abort should terminate the run")
		}
		if out.Objective.Status != research.ObjectiveFailed {
			t.Errorf("objective status = %s, want FAILED", out.Objective.Status)
		}
		if out.Objective.ErrorMessage == "" {
			t.Error("objective error message not set")
		}
	})

	t.Run("pre-execution transient failure retries the node", func(t *testing.T) {
		st := store.NewMemoryStore()
		n := newTestNodes(t, research.GraphExecutor, st, chat())
		s := freshState("q")
		if err := st.UpsertObjective(ctx, s.Objective); err != nil {
			t.Fatal(err)
		}
		s.Fail(NodeContextAnalyzer, &research.AgentError{Message: "timeout"})

		res := n.ErrorHandler(ctx, s)
		if res.Route.To != NodeContextAnalyzer {
			t.Errorf("route = %q, want the failing node", res.Route.To)
		}
		if res.State.Intermediate.ErrorHistory[0].Action != ActionRetryNode {
			t.Errorf("action = %s, want retry_node", res.State.Intermediate.ErrorHistory[0].Action)
		}
	})
}

func TestErrorHandler_StepFailedFromEvaluator(t *testing.T) {
	// A FAILED step (POOR verdict) routed through the error handler by a later
	// transient fault must not be double-failed.
	st := store.NewMemoryStore()
	n := newTestNodes(t, research.GraphExecutor, st, chat())
	s := seedObjectiveState(t, st)
	step := s.CurrentStep()
	if err := step.Transition(research.StepFailed); err != nil {
		t.Fatal(err)
	}
	s.Fail(NodeQualityEvaluator, &research.AgentError{Agent: agent.NameQualityEvaluator, Message: "flaky"})

	res := n.ErrorHandler(context.Background(), s)
	got := res.State.Objective.Tasks[0].Steps[0]
	if got.Status != research.StepReady {
		t.Errorf("step status = %s, want READY via retry", got.Status)
	}
}
