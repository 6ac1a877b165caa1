package research

import (
	"errors"
	"reflect"
	"testing"
)

func TestStateSerializeRoundTrip(t *testing.T) {
	obj := NewObjective("title", "query", 7)
	task := NewTask(obj.ID, "task", "desc", TaskTypeAnalysis, 5)
	step := NewStep(task.ID, "step", "desc", "processing")
	task.Steps = []*Step{step}
	obj.Tasks = []*Task{task}

	s := State{
		WorkflowID:    "wf-1",
		WorkflowKind:  GraphExecutor,
		ThreadID:      "wf-1",
		Locale:        "en-US",
		AutoExecute:   true,
		Objective:     obj,
		CurrentTaskID: task.ID,
		CurrentStepID: step.ID,
	}
	s.Visit("initialize")
	s.Visit("context_analyzer")
	s.AddMessage("user", "", "hello")
	s.Intermediate.ContextAnalysis = &ContextAnalysis{Domain: "software", Complexity: 3}
	s.Intermediate.BumpPlanAttempts(task.ID)
	s.Intermediate.RecordEval(Evaluation{TargetID: step.ID, TargetKind: "step", Score: 8, Level: QualityGood, At: Now()})

	raw, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if !reflect.DeepEqual(got.VisitedNodes, s.VisitedNodes) {
		t.Errorf("visited = %v, want %v", got.VisitedNodes, s.VisitedNodes)
	}
	if got.CurrentStepID != step.ID || got.CurrentTaskID != task.ID {
		t.Error("cursors lost in round trip")
	}
	if got.Objective == nil || got.Objective.ID != obj.ID {
		t.Fatal("objective lost in round trip")
	}
	if len(got.Objective.Tasks) != 1 || len(got.Objective.Tasks[0].Steps) != 1 {
		t.Fatal("task tree lost in round trip")
	}
	if got.Intermediate.ContextAnalysis == nil || got.Intermediate.ContextAnalysis.Domain != "software" {
		t.Error("intermediate data lost in round trip")
	}
	if got.Intermediate.PlanAttempts[task.ID] != 1 {
		t.Error("plan attempts lost in round trip")
	}

	// second round trip is identical: timestamps are already second-resolution
	raw2, err := got.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(raw2) {
		t.Error("snapshot not stable across round trips")
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	var se *StateError
	if _, err := Deserialize([]byte("{not json")); !errors.As(err, &se) {
		t.Errorf("want StateError, got %v", err)
	}
}

func TestStateFaultLifecycle(t *testing.T) {
	s := State{}
	if s.Fault() != nil {
		t.Error("fresh state carries a fault")
	}

	s.Fail("research", &AgentError{Agent: "research", Message: "model unavailable"})
	fault := s.Fault()
	if fault == nil {
		t.Fatal("Fail did not record a fault")
	}
	var fe *FlowError
	if !errors.As(fault, &fe) {
		t.Fatalf("fault type = %T", fault)
	}
	if fe.Type != ErrTypeAgent {
		t.Errorf("classified type = %s, want Agent", fe.Type)
	}
	if fe.Node != "research" {
		t.Errorf("node = %s", fe.Node)
	}

	s.ClearError()
	if s.Fault() != nil {
		t.Error("ClearError left a fault")
	}
}

func TestStateCursors(t *testing.T) {
	obj := NewObjective("t", "q", 5)
	task := NewTask(obj.ID, "task", "d", TaskTypeResearch, 5)
	step := NewStep(task.ID, "step", "d", "research")
	task.Steps = []*Step{step}
	obj.Tasks = []*Task{task}

	s := State{Objective: obj}
	if s.CurrentTask() != nil || s.CurrentStep() != nil {
		t.Error("empty cursors resolved to entities")
	}

	s.CurrentTaskID = task.ID
	s.CurrentStepID = step.ID
	if got := s.CurrentTask(); got == nil || got.ID != task.ID {
		t.Error("task cursor did not resolve")
	}
	if got := s.CurrentStep(); got == nil || got.ID != step.ID {
		t.Error("step cursor did not resolve")
	}

	s.CurrentTaskID = "missing"
	if s.CurrentTask() != nil || s.CurrentStep() != nil {
		t.Error("dangling cursor resolved")
	}
}

func TestIntermediateBumps(t *testing.T) {
	var i Intermediate
	if got := i.BumpPlanAttempts("t1"); got != 1 {
		t.Errorf("first bump = %d", got)
	}
	if got := i.BumpPlanAttempts("t1"); got != 2 {
		t.Errorf("second bump = %d", got)
	}
	if got := i.BumpPlanAttempts("t2"); got != 1 {
		t.Errorf("independent key = %d", got)
	}
	if got := i.BumpImproveRounds("s1"); got != 1 {
		t.Errorf("improve bump = %d", got)
	}
}
