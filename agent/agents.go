package agent

import "github.com/arclabs-io/researchgraph/model"

// Canonical agent names, matching the node handlers that invoke them.
const (
	NameContextAnalyzer     = "context_analyzer"
	NameObjectiveDecomposer = "objective_decomposer"
	NameTaskAnalyzer        = "task_analyzer"
	NameResearch            = "research"
	NameProcessing          = "processing"
	NameQualityEvaluator    = "quality_evaluator"
	NameSynthesis           = "synthesis"
)

// NewContextAnalyzer characterizes the raw query (domain, concepts,
// complexity, information needs).
func NewContextAnalyzer(chat model.ChatModel) Agent {
	return NewLLMAgent(NameContextAnalyzer, "context_analyzer", chat)
}

// NewObjectiveDecomposer produces the task breakdown with symbolic
// dependencies.
func NewObjectiveDecomposer(chat model.ChatModel) Agent {
	return NewLLMAgent(NameObjectiveDecomposer, "objective_decomposer", chat)
}

// NewTaskAnalyzer plans 3-7 steps for one task.
func NewTaskAnalyzer(chat model.ChatModel) Agent {
	return NewLLMAgent(NameTaskAnalyzer, "task_analyzer", chat)
}

// NewResearcher executes information-gathering steps.
func NewResearcher(chat model.ChatModel) Agent {
	return NewLLMAgent(NameResearch, "research", chat)
}

// NewProcessor executes analysis and drafting steps.
func NewProcessor(chat model.ChatModel) Agent {
	return NewLLMAgent(NameProcessing, "processing", chat)
}

// NewQualityEvaluator scores a work product and assigns a quality level.
func NewQualityEvaluator(chat model.ChatModel) Agent {
	return NewLLMAgent(NameQualityEvaluator, "quality_evaluator", chat)
}

// NewSynthesizer writes the final report from completed task outputs.
func NewSynthesizer(chat model.ChatModel) Agent {
	return NewLLMAgent(NameSynthesis, "synthesis", chat)
}

// DecompositionOutput is the typed decode target for the decomposer.
type DecompositionOutput struct {
	Tasks []DecomposedTask `json:"tasks"`
}

// DecomposedTask is one planned task; DependsOn holds symbolic titles that
// the flow layer resolves into task IDs.
type DecomposedTask struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	TaskType       string   `json:"task_type"`
	Priority       int      `json:"priority"`
	EstimatedSteps int      `json:"estimated_steps"`
	DependsOn      []string `json:"depends_on"`
}

// PlanOutput is the typed decode target for the task analyzer.
type PlanOutput struct {
	Steps []PlannedStep `json:"steps"`
}

// PlannedStep is one planned step.
type PlannedStep struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StepType    string `json:"step_type"`
	AgentName   string `json:"agent_name"`
}

// ResearchOutput is the typed decode target for the research agent.
type ResearchOutput struct {
	Summary  string   `json:"summary"`
	Findings []string `json:"findings"`
	Sources  []string `json:"sources"`
}

// ProcessingOutput is the typed decode target for the processing agent.
type ProcessingOutput struct {
	Summary string `json:"summary"`
	Result  string `json:"result"`
}

// EvaluationOutput is the typed decode target for the quality evaluator.
type EvaluationOutput struct {
	Score                  float64  `json:"score"`
	QualityLevel           string   `json:"quality_level"`
	Feedback               string   `json:"feedback"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// SynthesisOutput is the typed decode target for the synthesizer.
type SynthesisOutput struct {
	Report      string   `json:"report"`
	KeyFindings []string `json:"key_findings"`
	Sources     []string `json:"sources"`
}
