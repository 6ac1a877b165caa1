package research

import (
	"time"

	"github.com/google/uuid"
)

// Task is one unit of work owned by exactly one Objective. DependsOn holds
// task IDs within the same objective and must form a DAG. Dependents are not
// stored; they are computed on demand to avoid owning pointers in both
// directions.
type Task struct {
	ID            string         `json:"task_id"`
	ObjectiveID   string         `json:"objective_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Type          TaskType       `json:"task_type"`
	Status        TaskStatus     `json:"status"`
	Priority      int            `json:"priority"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	Quality       QualityLevel   `json:"quality_assessment,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	Steps []*Step `json:"steps,omitempty"`
}

// NewTask creates a PENDING task under the given objective.
func NewTask(objectiveID, title, description string, typ TaskType, priority int) *Task {
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	now := Now()
	return &Task{
		ID:          uuid.NewString(),
		ObjectiveID: objectiveID,
		Title:       title,
		Description: description,
		Type:        typ,
		Status:      TaskPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the task to next, enforcing the lifecycle table.
// UpdatedAt doubles as the scheduler heartbeat and is bumped on every move.
func (t *Task) Transition(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return &ValidationError{Message: "invalid task transition " + string(t.Status) + " -> " + string(next)}
	}
	t.Status = next
	now := Now()
	t.UpdatedAt = now
	switch {
	case next == TaskRunning && t.StartedAt == nil:
		t.StartedAt = &now
	case next.Terminal():
		t.CompletedAt = &now
	}
	return nil
}

// Heartbeat bumps UpdatedAt so the background scheduler does not reap the
// task as stalled.
func (t *Task) Heartbeat() {
	t.UpdatedAt = Now()
}

// Step returns the step with the given id, or nil.
func (t *Task) Step(id string) *Step {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// NextPendingStep returns the first PENDING step in insertion order, or nil.
// Steps within a task are totally ordered by insertion.
func (t *Task) NextPendingStep() *Step {
	for _, s := range t.Steps {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

// AllStepsTerminal reports whether every step is COMPLETED or SKIPPED.
// A FAILED or CANCELLED step does not complete the task.
func (t *Task) AllStepsTerminal() bool {
	if len(t.Steps) == 0 {
		return false
	}
	for _, s := range t.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			return false
		}
	}
	return true
}

// DependenciesCompleted reports whether every task in DependsOn is COMPLETED
// within the owning objective.
func (t *Task) DependenciesCompleted(o *Objective) bool {
	for _, dep := range t.DependsOn {
		d := o.Task(dep)
		if d == nil || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of tasks in o that depend on t. The inverse
// relation is computed, never stored.
func (t *Task) Dependents(o *Objective) []string {
	var out []string
	for _, other := range o.Tasks {
		for _, dep := range other.DependsOn {
			if dep == t.ID {
				out = append(out, other.ID)
				break
			}
		}
	}
	return out
}

// RecomputeReady flips PENDING tasks whose dependencies are all COMPLETED to
// READY. It is called in the same update that completes a task so a dependent
// is never observed PENDING with satisfied dependencies. Returns the tasks
// that changed.
func RecomputeReady(o *Objective) []*Task {
	var changed []*Task
	for _, t := range o.Tasks {
		if t.Status != TaskPending {
			continue
		}
		if t.DependenciesCompleted(o) {
			t.Status = TaskReady
			t.UpdatedAt = Now()
			changed = append(changed, t)
		}
	}
	return changed
}

// ValidateDependencyGraph checks that depends_on forms a DAG within the
// objective: every referenced task exists, no task depends on itself, and no
// cycles exist. Returns a *ValidationError describing the first violation.
func ValidateDependencyGraph(o *Objective) error {
	byID := make(map[string]*Task, len(o.Tasks))
	for _, t := range o.Tasks {
		byID[t.ID] = t
	}
	for _, t := range o.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return &ValidationError{Message: "task " + t.Title + " depends on itself"}
			}
			if _, ok := byID[dep]; !ok {
				return &ValidationError{Message: "task " + t.Title + " depends on unknown task " + dep}
			}
		}
	}
	// DFS cycle detection: 0 unvisited, 1 on stack, 2 done.
	color := make(map[string]int, len(o.Tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = 1
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case 1:
				return false
			case 0:
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = 2
		return true
	}
	for _, t := range o.Tasks {
		if color[t.ID] == 0 && !visit(t.ID) {
			return &ValidationError{Message: "dependency cycle involving task " + t.Title}
		}
	}
	return nil
}

// ResolveDependencies converts symbolic depends_on entries (task titles, as
// produced by the decomposer) into task IDs, then validates the DAG and
// flips dependency-free tasks to READY. The title->deps map is returned for
// the intermediate-data blackboard.
func ResolveDependencies(o *Objective, symbolic map[string][]string) (map[string][]string, error) {
	byTitle := make(map[string]*Task, len(o.Tasks))
	for _, t := range o.Tasks {
		byTitle[t.Title] = t
	}
	for title, deps := range symbolic {
		t, ok := byTitle[title]
		if !ok {
			return nil, &ValidationError{Message: "decomposition references unknown task title " + title}
		}
		t.DependsOn = t.DependsOn[:0]
		for _, depTitle := range deps {
			d, ok := byTitle[depTitle]
			if !ok {
				return nil, &ValidationError{Message: "task " + title + " depends on unknown title " + depTitle}
			}
			t.DependsOn = append(t.DependsOn, d.ID)
		}
	}
	if err := ValidateDependencyGraph(o); err != nil {
		return nil, err
	}
	for _, t := range o.Tasks {
		if len(t.DependsOn) == 0 && t.Status == TaskPending {
			t.Status = TaskReady
			t.UpdatedAt = Now()
		}
	}
	return symbolic, nil
}

// Step is the smallest executable unit, produced by the task analyzer and
// consumed by the research/processing nodes.
type Step struct {
	ID           string         `json:"step_id"`
	TaskID       string         `json:"task_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	StepType     string         `json:"step_type,omitempty"`
	Status       StepStatus     `json:"status"`
	AgentName    string         `json:"agent_name"`
	Priority     int            `json:"priority"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Quality      QualityLevel   `json:"quality_assessment,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DefaultMaxRetries bounds step retries when the planner does not override it.
const DefaultMaxRetries = 3

// NewStep creates a PENDING step under the given task.
func NewStep(taskID, title, description, agentName string) *Step {
	return &Step{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Title:       title,
		Description: description,
		Status:      StepPending,
		AgentName:   agentName,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   Now(),
	}
}

// Transition moves the step to next, enforcing the lifecycle table.
func (s *Step) Transition(next StepStatus) error {
	if !s.Status.CanTransition(next) {
		return &ValidationError{Message: "invalid step transition " + string(s.Status) + " -> " + string(next)}
	}
	s.Status = next
	now := Now()
	switch {
	case next == StepRunning && s.StartedAt == nil:
		s.StartedAt = &now
	case next.Terminal():
		s.CompletedAt = &now
	}
	return nil
}

// Retry re-readies a failed or running step, incrementing retry_count.
// Returns false when max_retries is exhausted.
func (s *Step) Retry() bool {
	if s.RetryCount >= s.MaxRetries {
		return false
	}
	s.RetryCount++
	s.Status = StepReady
	s.ErrorMessage = ""
	s.CompletedAt = nil
	return true
}
