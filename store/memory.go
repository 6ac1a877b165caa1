package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arclabs-io/researchgraph/research"
)

// MemoryStore is an in-memory Store for tests and single-shot runs. All
// entities are deep-copied through JSON on the way in and out, so callers
// can mutate their copies freely.
//
// WithinTx snapshots the maps and restores them when fn fails, which gives
// real rollback semantics without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	objectives  map[string]*research.Objective
	tasks       map[string]*research.Task
	steps       map[string]*research.Step
	workflows   map[string]*research.Workflow
	checkpoints map[string]*research.Checkpoint
	seq         map[string]int // insertion order per entity id
	nextSeq     int
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objectives:  make(map[string]*research.Objective),
		tasks:       make(map[string]*research.Task),
		steps:       make(map[string]*research.Step),
		workflows:   make(map[string]*research.Workflow),
		checkpoints: make(map[string]*research.Checkpoint),
		seq:         make(map[string]int),
	}
}

func clone[T any](src *T) *T {
	raw, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	dst := new(T)
	if err := json.Unmarshal(raw, dst); err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	return dst
}

func (m *MemoryStore) track(id string) {
	if _, ok := m.seq[id]; !ok {
		m.nextSeq++
		m.seq[id] = m.nextSeq
	}
}

func (m *MemoryStore) guard() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// UpsertObjective stores a copy of the objective row; nested tasks are
// intentionally dropped, matching the relational backends.
func (m *MemoryStore) UpsertObjective(ctx context.Context, o *research.Objective) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	cp := clone(o)
	cp.Tasks = nil
	m.objectives[o.ID] = cp
	m.track(o.ID)
	return nil
}

func (m *MemoryStore) GetObjective(ctx context.Context, id string) (*research.Objective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	o, ok := m.objectives[id]
	if !ok {
		return nil, fmt.Errorf("objective %s: %w", id, ErrNotFound)
	}
	out := clone(o)
	out.Tasks = m.tasksOf(id)
	return out, nil
}

// tasksOf assembles the objective's tasks with steps attached. Callers hold
// at least the read lock.
func (m *MemoryStore) tasksOf(objectiveID string) []*research.Task {
	var tasks []*research.Task
	for _, t := range m.tasks {
		if t.ObjectiveID == objectiveID {
			cp := clone(t)
			cp.Steps = m.stepsOf(t.ID)
			tasks = append(tasks, cp)
		}
	}
	sortByInsertion(m.seq, tasks, func(t *research.Task) string { return t.ID })
	return tasks
}

func (m *MemoryStore) stepsOf(taskID string) []*research.Step {
	var steps []*research.Step
	for _, s := range m.steps {
		if s.TaskID == taskID {
			steps = append(steps, clone(s))
		}
	}
	sortByInsertion(m.seq, steps, func(s *research.Step) string { return s.ID })
	return steps
}

// sortByInsertion orders entities by the store's insertion sequence, which
// stands in for the AUTOINCREMENT ordering of the SQL backends.
func sortByInsertion[T any](seq map[string]int, items []*T, id func(*T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return seq[id(items[i])] < seq[id(items[j])]
	})
}

func (m *MemoryStore) UpdateObjectiveStatus(ctx context.Context, id string, status research.ObjectiveStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	o, ok := m.objectives[id]
	if !ok {
		return fmt.Errorf("objective %s: %w", id, ErrNotFound)
	}
	o.Status = status
	if completedAt != nil {
		t := *completedAt
		o.CompletedAt = &t
	}
	return nil
}

func (m *MemoryStore) UpsertTask(ctx context.Context, t *research.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	cp := clone(t)
	cp.Steps = nil
	m.tasks[t.ID] = cp
	m.track(t.ID)
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*research.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	out := clone(t)
	out.Steps = m.stepsOf(id)
	return out, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, objectiveID string) ([]*research.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.tasksOf(objectiveID), nil
}

func (m *MemoryStore) ListTasksByStatus(ctx context.Context, status research.TaskStatus) ([]*research.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	var tasks []*research.Task
	for _, t := range m.tasks {
		if t.Status == status {
			tasks = append(tasks, clone(t))
		}
	}
	sortByInsertion(m.seq, tasks, func(t *research.Task) string { return t.ID })
	return tasks, nil
}

func (m *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status research.TaskStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = research.Now()
	if errMsg != "" {
		t.ResultSummary = errMsg
	}
	return nil
}

func (m *MemoryStore) UpsertStep(ctx context.Context, s *research.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.steps[s.ID] = clone(s)
	m.track(s.ID)
	return nil
}

func (m *MemoryStore) GetStep(ctx context.Context, id string) (*research.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	s, ok := m.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	return clone(s), nil
}

func (m *MemoryStore) ListSteps(ctx context.Context, taskID string) ([]*research.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.stepsOf(taskID), nil
}

func (m *MemoryStore) UpdateStepStatus(ctx context.Context, id string, status research.StepStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	s, ok := m.steps[id]
	if !ok {
		return fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	s.Status = status
	if errMsg != "" {
		s.ErrorMessage = errMsg
	}
	return nil
}

func (m *MemoryStore) CreateWorkflow(ctx context.Context, w *research.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.workflows[w.ID] = clone(w)
	m.track(w.ID)
	return nil
}

func (m *MemoryStore) UpdateWorkflow(ctx context.Context, w *research.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	if _, ok := m.workflows[w.ID]; !ok {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrNotFound)
	}
	m.workflows[w.ID] = clone(w)
	return nil
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, id string) (*research.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	w, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return clone(w), nil
}

func (m *MemoryStore) ListWorkflows(ctx context.Context, objectiveID string) ([]*research.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	var wfs []*research.Workflow
	for _, w := range m.workflows {
		if w.ObjectiveID == objectiveID {
			wfs = append(wfs, clone(w))
		}
	}
	sortByInsertion(m.seq, wfs, func(w *research.Workflow) string { return w.ID })
	return wfs, nil
}

func (m *MemoryStore) CreateCheckpoint(ctx context.Context, cp *research.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.checkpoints[cp.ID] = clone(cp)
	m.track(cp.ID)
	return nil
}

func (m *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*research.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	cp, ok := m.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	return clone(cp), nil
}

func (m *MemoryStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*research.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	var cps []*research.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.WorkflowID == workflowID {
			cps = append(cps, clone(cp))
		}
	}
	sortByInsertion(m.seq, cps, func(cp *research.Checkpoint) string { return cp.ID })
	return cps, nil
}

// WithinTx snapshots the maps, runs fn against the store itself, and restores
// the snapshot when fn fails.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	if err := m.guard(); err != nil {
		m.mu.Unlock()
		return err
	}
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	objectives  map[string]*research.Objective
	tasks       map[string]*research.Task
	steps       map[string]*research.Step
	workflows   map[string]*research.Workflow
	checkpoints map[string]*research.Checkpoint
	seq         map[string]int
	nextSeq     int
}

func (m *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		objectives:  make(map[string]*research.Objective, len(m.objectives)),
		tasks:       make(map[string]*research.Task, len(m.tasks)),
		steps:       make(map[string]*research.Step, len(m.steps)),
		workflows:   make(map[string]*research.Workflow, len(m.workflows)),
		checkpoints: make(map[string]*research.Checkpoint, len(m.checkpoints)),
		seq:         make(map[string]int, len(m.seq)),
		nextSeq:     m.nextSeq,
	}
	for k, v := range m.objectives {
		snap.objectives[k] = clone(v)
	}
	for k, v := range m.tasks {
		snap.tasks[k] = clone(v)
	}
	for k, v := range m.steps {
		snap.steps[k] = clone(v)
	}
	for k, v := range m.workflows {
		snap.workflows[k] = clone(v)
	}
	for k, v := range m.checkpoints {
		snap.checkpoints[k] = clone(v)
	}
	for k, v := range m.seq {
		snap.seq[k] = v
	}
	return snap
}

func (m *MemoryStore) restore(snap memSnapshot) {
	m.objectives = snap.objectives
	m.tasks = snap.tasks
	m.steps = snap.steps
	m.workflows = snap.workflows
	m.checkpoints = snap.checkpoints
	m.seq = snap.seq
	m.nextSeq = snap.nextSeq
}

// Ping always succeeds while the store is open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guard()
}

// Close empties the store. Double-close is a no-op.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
