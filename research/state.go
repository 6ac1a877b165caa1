package research

import (
	"encoding/json"
	"time"
)

// Message is one entry in the ordered conversation log carried by State.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Agent   string    `json:"agent,omitempty"`
	At      time.Time `json:"at"`
}

// ContextAnalysis is the canonical shape produced by the context analyzer.
type ContextAnalysis struct {
	Domain           string   `json:"domain"`
	SecondaryDomains []string `json:"secondary_domains,omitempty"`
	KeyConcepts      []string `json:"key_concepts,omitempty"`
	GoalType         string   `json:"goal_type,omitempty"`
	Region           string   `json:"region,omitempty"`
	TimeConstraints  string   `json:"time_constraints,omitempty"`
	Language         string   `json:"language,omitempty"`
	Complexity       int      `json:"complexity"`
	InformationNeeds []string `json:"information_needs,omitempty"`
}

// SynthesisResult is the final report produced by the synthesis agent.
type SynthesisResult struct {
	Report      string   `json:"report"`
	KeyFindings []string `json:"key_findings,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Evaluation records one quality-evaluator verdict. Prior attempts stay on
// the blackboard so a replanning pass sees what already failed.
type Evaluation struct {
	TargetID    string       `json:"target_id"`
	TargetKind  string       `json:"target_kind"` // "step" or "task"
	Score       float64      `json:"score"`
	Level       QualityLevel `json:"quality_level"`
	Feedback    string       `json:"feedback,omitempty"`
	Suggestions []string     `json:"improvement_suggestions,omitempty"`
	At          time.Time    `json:"at"`
}

// ErrorRecord is one entry in the error history kept by the error handler.
type ErrorRecord struct {
	Node    string    `json:"node"`
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
}

// Intermediate is the typed cross-node blackboard. Keys are declared fields,
// not a free-form map, so an unknown key is a compile error rather than a
// silent typo at runtime.
type Intermediate struct {
	ContextAnalysis     *ContextAnalysis    `json:"context_analysis,omitempty"`
	SynthesisResult     *SynthesisResult    `json:"synthesis_result,omitempty"`
	DependenciesByTitle map[string][]string `json:"task_dependencies_by_title,omitempty"`
	ErrorHistory        []ErrorRecord       `json:"error_history,omitempty"`
	EvalHistory         []Evaluation        `json:"eval_history,omitempty"`
	PlanAttempts        map[string]int      `json:"plan_attempts,omitempty"`
	ImproveRounds       map[string]int      `json:"improve_rounds,omitempty"`
}

// RecordEval appends a verdict to the evaluation history.
func (i *Intermediate) RecordEval(e Evaluation) {
	i.EvalHistory = append(i.EvalHistory, e)
}

// RecordError appends an error-handler decision to the history.
func (i *Intermediate) RecordError(r ErrorRecord) {
	i.ErrorHistory = append(i.ErrorHistory, r)
}

// BumpPlanAttempts increments and returns the replan count for a task.
func (i *Intermediate) BumpPlanAttempts(taskID string) int {
	if i.PlanAttempts == nil {
		i.PlanAttempts = make(map[string]int)
	}
	i.PlanAttempts[taskID]++
	return i.PlanAttempts[taskID]
}

// BumpImproveRounds increments and returns the improvement loop count for a
// step.
func (i *Intermediate) BumpImproveRounds(stepID string) int {
	if i.ImproveRounds == nil {
		i.ImproveRounds = make(map[string]int)
	}
	i.ImproveRounds[stepID]++
	return i.ImproveRounds[stepID]
}

// State is the value flowing through the workflow graph. The engine is its
// sole writer: handlers receive it, mutate their copy, and return it. There
// is never a concurrent write to one State.
type State struct {
	WorkflowID        string       `json:"workflow_id"`
	WorkflowKind      GraphKind    `json:"workflow_kind"`
	ThreadID          string       `json:"thread_id,omitempty"`
	Locale            string       `json:"locale,omitempty"`
	AutoExecute       bool         `json:"auto_execute"`
	InterruptFeedback string       `json:"interrupt_feedback,omitempty"`
	Objective         *Objective   `json:"objective"`
	CurrentTaskID     string       `json:"current_task_id,omitempty"`
	CurrentStepID     string       `json:"current_step_id,omitempty"`
	Messages          []Message    `json:"messages,omitempty"`
	Intermediate      Intermediate `json:"intermediate_data"`
	Error             *FlowError   `json:"error,omitempty"`
	VisitedNodes      []string     `json:"visited_nodes,omitempty"`
	Allocated         []string     `json:"allocated_resources,omitempty"`
}

// Fault exposes the node-level error to the graph engine for error routing.
func (s State) Fault() error {
	if s.Error == nil {
		return nil
	}
	return s.Error
}

// Visit appends the node name to visited_nodes.
func (s *State) Visit(node string) {
	s.VisitedNodes = append(s.VisitedNodes, node)
}

// Fail records a classified node failure on the state.
func (s *State) Fail(node string, err error) {
	s.Error = Classify(node, err)
}

// ClearError removes the error so the engine can resume.
func (s *State) ClearError() {
	s.Error = nil
}

// CurrentTask resolves the current task cursor, or nil.
func (s *State) CurrentTask() *Task {
	if s.Objective == nil || s.CurrentTaskID == "" {
		return nil
	}
	return s.Objective.Task(s.CurrentTaskID)
}

// CurrentStep resolves the current step cursor, or nil.
func (s *State) CurrentStep() *Step {
	t := s.CurrentTask()
	if t == nil || s.CurrentStepID == "" {
		return nil
	}
	return t.Step(s.CurrentStepID)
}

// AddMessage appends to the ordered message log.
func (s *State) AddMessage(role, agent, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Agent: agent, Content: content, At: Now()})
}

// Serialize produces the JSON snapshot stored on Workflow rows and
// checkpoints. Reloading it with Deserialize reproduces an identical
// snapshot (timestamps are already second-resolution).
func (s *State) Serialize() (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, &StateError{Message: "serialize state: " + err.Error()}
	}
	return b, nil
}

// Deserialize restores a State from a stored snapshot.
func Deserialize(raw json.RawMessage) (State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, &StateError{Message: "deserialize state: " + err.Error()}
	}
	return s, nil
}
