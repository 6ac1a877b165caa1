package flow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/model"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
)

// Canned agent responses. The mock chat model serves them in call order, so
// every test scripts the exact sequence its run consumes.
const (
	respContext = `{"domain":"software","complexity":2,"key_concepts":["caching"],"information_needs":["benchmarks"]}`

	respOneTask = `{"tasks":[
		{"title":"Survey caches","description":"collect cache designs","task_type":"RESEARCH","priority":5,"estimated_steps":2,"depends_on":[]}
	]}`

	respTwoTasksChained = `{"tasks":[
		{"title":"Gather data","description":"collect inputs","task_type":"RESEARCH","priority":5,"estimated_steps":1,"depends_on":[]},
		{"title":"Write summary","description":"summarize inputs","task_type":"DOCUMENTATION","priority":7,"estimated_steps":1,"depends_on":["Gather data"]}
	]}`

	respPlanTwoSteps = `{"steps":[
		{"title":"Find sources","description":"locate primary sources","step_type":"search","agent_name":"research"},
		{"title":"Extract facts","description":"pull out the key facts","step_type":"extract","agent_name":"research"}
	]}`

	respPlanOneStep = `{"steps":[
		{"title":"Do the work","description":"execute the task","step_type":"analyze","agent_name":"research"}
	]}`

	respPlanOneProcessing = `{"steps":[
		{"title":"Draft it","description":"write the document","step_type":"draft","agent_name":"processing"}
	]}`

	respResearchStep   = `{"summary":"found three cache designs","findings":["LRU","LFU","ARC"],"sources":["paper-1"]}`
	respProcessingStep = `{"summary":"document drafted","result":"the full draft"}`

	respEvalGood      = `{"score":8.5,"quality_level":"GOOD","feedback":"solid"}`
	respEvalPoor      = `{"score":2,"quality_level":"POOR","feedback":"misses the point"}`
	respEvalNeedsWork = `{"score":5,"quality_level":"NEEDS_IMPROVEMENT","feedback":"add sources"}`

	respSynthesis = `{"report":"the final report","key_findings":["caches matter"],"sources":["paper-1"]}`
)

func chat(texts ...string) *model.MockChatModel {
	outs := make([]model.ChatOut, len(texts))
	for i, s := range texts {
		outs[i] = model.ChatOut{Text: s, TokensUsed: 10}
	}
	return &model.MockChatModel{Responses: outs}
}

func newAgents(m model.ChatModel) *agent.Registry {
	r := agent.NewRegistry()
	r.Register(agent.NameContextAnalyzer, agent.NewContextAnalyzer(m))
	r.Register(agent.NameObjectiveDecomposer, agent.NewObjectiveDecomposer(m))
	r.Register(agent.NameTaskAnalyzer, agent.NewTaskAnalyzer(m))
	r.Register(agent.NameResearch, agent.NewResearcher(m))
	r.Register(agent.NameProcessing, agent.NewProcessor(m))
	r.Register(agent.NameQualityEvaluator, agent.NewQualityEvaluator(m))
	r.Register(agent.NameSynthesis, agent.NewSynthesizer(m))
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestController(t *testing.T, st store.Store, m model.ChatModel) *Controller {
	t.Helper()
	cfg := ControllerConfig{
		MaxSteps:    60,
		NodeTimeout: 5 * time.Second,
		WaitBackoff: 5 * time.Millisecond,
	}
	return NewController(cfg, st, newAgents(m), nil, testLogger())
}

func newTestNodes(t *testing.T, kind research.GraphKind, st store.Store, m model.ChatModel) *Nodes {
	t.Helper()
	return NewNodes(kind, newAgents(m), st, nil, testLogger())
}

// collect drains the event channel with a watchdog so a hung run fails fast
// instead of stalling the test binary.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, open := <-events:
			if !open {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events so far", len(out))
		}
	}
}

func eventsOfType(events []Event, typ string) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func lastEvent(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	return events[len(events)-1]
}

// seedObjectiveState builds a state mid-execution: one objective with one
// RUNNING research task whose first step is RUNNING.
func seedObjectiveState(t *testing.T, st store.Store) research.State {
	t.Helper()
	obj := research.NewObjective("seed", "seed query", 5)
	task := research.NewTask(obj.ID, "seed task", "desc", research.TaskTypeResearch, 5)
	step := research.NewStep(task.ID, "seed step", "do it", agent.NameResearch)
	task.Steps = []*research.Step{step}
	obj.Tasks = []*research.Task{task}

	if err := task.Transition(research.TaskReady); err != nil {
		t.Fatalf("task ready: %v", err)
	}
	if err := task.Transition(research.TaskRunning); err != nil {
		t.Fatalf("task running: %v", err)
	}
	if err := step.Transition(research.StepReady); err != nil {
		t.Fatalf("step ready: %v", err)
	}
	if err := step.Transition(research.StepRunning); err != nil {
		t.Fatalf("step running: %v", err)
	}
	obj.Status = research.ObjectiveExecuting

	ctx := context.Background()
	if err := st.UpsertObjective(ctx, obj); err != nil {
		t.Fatalf("seed objective: %v", err)
	}
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := st.UpsertStep(ctx, step); err != nil {
		t.Fatalf("seed step: %v", err)
	}

	return research.State{
		WorkflowID:    "wf-seed",
		WorkflowKind:  research.GraphExecutor,
		Objective:     obj,
		CurrentTaskID: task.ID,
		CurrentStepID: step.ID,
	}
}
