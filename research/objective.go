package research

import (
	"time"

	"github.com/google/uuid"
)

// Objective is the top-level user intent: one research query and its
// lifecycle. Tasks are owned by the objective; the persistence layer stores
// them separately but the in-memory state carries them inline.
type Objective struct {
	ID            string          `json:"objective_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Query         string          `json:"query"`
	Status        ObjectiveStatus `json:"status"`
	Priority      int             `json:"priority"`
	UserID        string          `json:"user_id,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ResultSummary string          `json:"result_summary,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`

	Tasks []*Task `json:"tasks,omitempty"`
}

// NewObjective creates an Objective in CREATED state from a raw query.
// Priority is clamped to [0,10].
func NewObjective(title, query string, priority int) *Objective {
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	return &Objective{
		ID:        uuid.NewString(),
		Title:     title,
		Query:     query,
		Status:    ObjectiveCreated,
		Priority:  priority,
		CreatedAt: Now(),
	}
}

// Transition moves the objective to next, enforcing the lifecycle table and
// the completed_at invariant (set iff terminal).
func (o *Objective) Transition(next ObjectiveStatus) error {
	if !o.Status.CanTransition(next) {
		return &ValidationError{Message: "invalid objective transition " + string(o.Status) + " -> " + string(next)}
	}
	o.Status = next
	now := Now()
	switch {
	case next == ObjectiveAnalyzing && o.StartedAt == nil:
		o.StartedAt = &now
	case next.Terminal():
		o.CompletedAt = &now
	case next == ObjectiveCreated:
		// restart_workflow resets the run
		o.StartedAt = nil
		o.CompletedAt = nil
		o.ResultSummary = ""
		o.ErrorMessage = ""
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (o *Objective) Task(id string) *Task {
	for _, t := range o.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Progress returns the 0-100 share of terminal tasks. Used by the read API;
// node-level streaming progress uses the weighted node table instead.
func (o *Objective) Progress() int {
	if len(o.Tasks) == 0 {
		if o.Status == ObjectiveCompleted {
			return 100
		}
		return 0
	}
	done := 0
	for _, t := range o.Tasks {
		if t.Status.Terminal() {
			done++
		}
	}
	return done * 100 / len(o.Tasks)
}

// AllTasksTerminal reports whether every task reached a terminal status.
func (o *Objective) AllTasksTerminal() bool {
	for _, t := range o.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// ReadyTasks returns non-terminal READY tasks ordered by descending priority,
// ties broken by creation order.
func (o *Objective) ReadyTasks() []*Task {
	var ready []*Task
	for _, t := range o.Tasks {
		if t.Status == TaskReady {
			ready = append(ready, t)
		}
	}
	// insertion order is creation order; stable selection sort on priority
	for i := 1; i < len(ready); i++ {
		for j := i; j > 0 && ready[j].Priority > ready[j-1].Priority; j-- {
			ready[j], ready[j-1] = ready[j-1], ready[j]
		}
	}
	return ready
}

// Now returns the current UTC time truncated to second resolution, matching
// the storage contract for timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
