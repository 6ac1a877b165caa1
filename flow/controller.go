package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/graph"
	"github.com/arclabs-io/researchgraph/graph/emit"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
	"github.com/arclabs-io/researchgraph/tool"
)

// ControllerConfig bounds one graph execution.
type ControllerConfig struct {
	// MaxSteps is the engine step budget per run.
	MaxSteps int

	// NodeTimeout bounds one node execution, LLM call included.
	NodeTimeout time.Duration

	// WaitBackoff is the pause between select_next_task re-entries while
	// tasks wait on dependencies.
	WaitBackoff time.Duration
}

// DefaultControllerConfig returns the production defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxSteps:    120,
		NodeTimeout: 90 * time.Second,
		WaitBackoff: 2 * time.Second,
	}
}

// Controller owns graph executions: it seeds objectives from stream
// requests, drives the engine, mirrors every update through the store and
// translates engine updates into SSE events. It also implements the
// background scheduler's TaskRunner so queued tasks execute through the same
// machinery as streamed ones.
type Controller struct {
	cfg     ControllerConfig
	store   store.Store
	agents  *agent.Registry
	tools   *tool.Registry
	log     *slog.Logger
	emitter emit.Emitter
}

// UseEmitter attaches an execution-event emitter (tracing, history) to every
// subsequent run. Call before the first Stream.
func (c *Controller) UseEmitter(em emit.Emitter) {
	c.emitter = em
}

// NewController wires a Controller. tools may be nil.
func NewController(cfg ControllerConfig, st store.Store, agents *agent.Registry, tools *tool.Registry, log *slog.Logger) *Controller {
	def := DefaultControllerConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = def.NodeTimeout
	}
	if cfg.WaitBackoff <= 0 {
		cfg.WaitBackoff = def.WaitBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, store: st, agents: agents, tools: tools, log: log}
}

// ChatMessage is one entry of a stream request's conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body of POST /api/v1/multiagent/stream.
type StreamRequest struct {
	Messages          []ChatMessage `json:"messages"`
	ThreadID          string        `json:"thread_id,omitempty"`
	Locale            string        `json:"locale,omitempty"`
	MaxSteps          int           `json:"max_steps,omitempty"`
	AutoExecute       bool          `json:"auto_execute,omitempty"`
	InterruptFeedback string        `json:"interrupt_feedback,omitempty"`
	AdditionalContext string        `json:"additional_context,omitempty"`
}

// query returns the latest user message, the workflow's driving input.
func (r StreamRequest) query() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// objectiveTitle derives a short title from the query.
func objectiveTitle(query string) string {
	const max = 80
	title := strings.Join(strings.Fields(query), " ")
	if len(title) > max {
		title = title[:max]
	}
	return title
}

// Stream opens a workflow execution for the request and returns the event
// channel. A thread_id naming a resumable workflow continues it, with any
// interrupt feedback spliced into the restored state; otherwise a new
// objective and multiagent workflow are created. The channel closes when the
// run terminates; canceling ctx cancels the run.
func (c *Controller) Stream(ctx context.Context, req StreamRequest) (<-chan Event, error) {
	if req.ThreadID != "" {
		wf, err := c.store.GetWorkflow(ctx, req.ThreadID)
		if err == nil && !wf.Status.Terminal() && len(wf.SerializedState) > 0 {
			return c.resume(ctx, wf, req)
		}
	}

	query := req.query()
	if query == "" {
		return nil, &research.ValidationError{Message: "stream request has no user message"}
	}

	obj := research.NewObjective(objectiveTitle(query), query, 5)
	obj.Metadata = map[string]any{}
	if req.AdditionalContext != "" {
		obj.Metadata["additional_context"] = req.AdditionalContext
	}

	kind := research.GraphMultiAgent
	wf := research.NewWorkflow(obj.ID, kind)
	wf.Start()

	state := research.State{
		WorkflowID:        wf.ID,
		WorkflowKind:      kind,
		ThreadID:          wf.ID,
		Locale:            req.Locale,
		AutoExecute:       req.AutoExecute,
		InterruptFeedback: req.InterruptFeedback,
		Objective:         obj,
	}
	if req.ThreadID != "" {
		state.ThreadID = req.ThreadID
	}

	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertObjective(ctx, obj); err != nil {
			return err
		}
		return createRunWorkflow(ctx, tx, wf)
	})
	if err != nil {
		return nil, err
	}

	return c.run(ctx, wf, state, req.MaxSteps, "")
}

// resume continues a stored workflow from its last checkpointed node.
func (c *Controller) resume(ctx context.Context, wf *research.Workflow, req StreamRequest) (<-chan Event, error) {
	state, err := research.Deserialize(wf.SerializedState)
	if err != nil {
		return nil, err
	}
	if req.InterruptFeedback != "" {
		state.InterruptFeedback = req.InterruptFeedback
		state.AddMessage("user", "", req.InterruptFeedback)
	}
	if wf.IsPaused {
		wf.IsPaused = false
		if err := c.store.UpdateWorkflow(ctx, wf); err != nil {
			return nil, err
		}
	}
	entry := wf.CurrentNode
	if entry == "" {
		entry = NodeInitialize
	}
	return c.run(ctx, wf, state, req.MaxSteps, entry)
}

// RestoreCheckpoint starts a fresh workflow seeded from a stored checkpoint
// and returns its event stream.
func (c *Controller) RestoreCheckpoint(ctx context.Context, checkpointID string) (<-chan Event, error) {
	cp, err := c.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	state, err := research.Deserialize(cp.State)
	if err != nil {
		return nil, err
	}
	if state.Objective == nil {
		return nil, &research.StateError{Message: "checkpoint state has no objective"}
	}

	kind := state.WorkflowKind
	if kind == "" {
		kind = research.GraphMultiAgent
	}
	wf := research.NewWorkflow(state.Objective.ID, kind)
	wf.Start()
	wf.CurrentNode = cp.NodeName
	state.WorkflowID = wf.ID

	err = c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return createRunWorkflow(ctx, tx, wf)
	})
	if err != nil {
		return nil, err
	}
	return c.run(ctx, wf, state, 0, cp.NodeName)
}

// run builds the engine for the workflow's variant and starts the
// translation goroutine. entry is empty for a fresh run.
func (c *Controller) run(ctx context.Context, wf *research.Workflow, state research.State, maxSteps int, entry string) (<-chan Event, error) {
	nodes := NewNodes(wf.Kind, c.agents, c.store, c.tools, c.log)
	compiled, err := nodes.BuildGraph()
	if err != nil {
		return nil, err
	}
	if maxSteps <= 0 || maxSteps > c.cfg.MaxSteps {
		maxSteps = c.cfg.MaxSteps
	}

	opts := []graph.Option[research.State]{
		graph.WithErrorNode[research.State](NodeErrorHandler),
		graph.WithWait[research.State](WaitLabel, c.cfg.WaitBackoff),
		graph.WithMaxSteps[research.State](maxSteps),
		graph.WithNodeTimeout[research.State](c.cfg.NodeTimeout),
		graph.WithCheckpointer[research.State](c.checkpointer()),
		graph.WithPauseChecker[research.State](c.pauseChecker()),
		graph.WithCancelChecker[research.State](c.cancelChecker()),
		graph.WithLogger[research.State](c.log),
	}
	if c.emitter != nil {
		opts = append(opts, graph.WithEmitter[research.State](c.emitter))
	}
	engine := graph.New[research.State](compiled, opts...)

	var updates <-chan graph.Update[research.State]
	if entry == "" {
		updates = engine.Stream(ctx, wf.ID, state)
	} else {
		updates = engine.ResumeFrom(ctx, wf.ID, entry, state)
	}

	events := make(chan Event, 32)
	go c.translate(ctx, wf, state, updates, events)
	return events, nil
}

// checkpointer persists the workflow cursor and an append-only state
// snapshot after every node.
func (c *Controller) checkpointer() graph.Checkpointer[research.State] {
	return graph.CheckpointerFunc[research.State](func(ctx context.Context, runID, node string, state research.State) error {
		raw, err := state.Serialize()
		if err != nil {
			return err
		}
		return c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
			wf, err := tx.GetWorkflow(ctx, runID)
			if err != nil {
				return err
			}
			wf.CurrentNode = node
			wf.SerializedState = raw
			if err := tx.UpdateWorkflow(ctx, wf); err != nil {
				return err
			}
			return tx.CreateCheckpoint(ctx, research.NewCheckpoint(runID, node, raw))
		})
	})
}

// pauseChecker reads the authoritative pause flag from the workflow row.
func (c *Controller) pauseChecker() graph.PauseChecker {
	return func(ctx context.Context, runID string) (bool, error) {
		wf, err := c.store.GetWorkflow(ctx, runID)
		if err != nil {
			return false, err
		}
		return wf.IsPaused, nil
	}
}

// cancelChecker reads the persisted workflow status: Cancel marks the row
// terminal while the run is mid-node, and the engine stops at the next
// boundary instead of finishing the objective.
func (c *Controller) cancelChecker() graph.CancelChecker {
	return func(ctx context.Context, runID string) (bool, error) {
		wf, err := c.store.GetWorkflow(ctx, runID)
		if err != nil {
			return false, err
		}
		return wf.Status.Terminal(), nil
	}
}

// translate converts engine updates into SSE events, diffing successive
// state snapshots to announce created tasks/steps and completed steps.
func (c *Controller) translate(ctx context.Context, wf *research.Workflow, initial research.State, updates <-chan graph.Update[research.State], events chan<- Event) {
	defer close(events)

	threadID := initial.ThreadID
	emit := func(e Event) {
		select {
		case events <- e:
		case <-ctx.Done():
			// terminal events still get a best-effort delivery so a consumer
			// that cancelled but keeps reading sees the outcome
			switch e.Type {
			case EventCancelled, EventError, EventFinalResult, EventInterrupt:
				select {
				case events <- e:
				default:
				}
			}
		}
	}

	if obj := initial.Objective; obj != nil && len(initial.VisitedNodes) == 0 {
		emit(newEvent(EventObjectiveCreated, map[string]any{
			"objective_id": obj.ID,
			"title":        obj.Title,
			"thread_id":    threadID,
		}))
	}

	seenTasks := make(map[string]bool)
	seenSteps := make(map[string]research.StepStatus)
	if obj := initial.Objective; obj != nil {
		for _, t := range obj.Tasks {
			seenTasks[t.ID] = true
			for _, st := range t.Steps {
				seenSteps[st.ID] = st.Status
			}
		}
	}
	lastNode := ""
	seenMsgs := len(initial.Messages)

	for u := range updates {
		switch u.Kind {
		case graph.KindMessage:
			// toolcall: and toolchunk: must be checked before the tool: prefix
			// they both start with
			if toolName, found := strings.CutPrefix(u.Node, "toolcall:"); found {
				emit(newEvent(EventToolCalls, map[string]any{
					"tool":      toolName,
					"args":      u.Chunk,
					"thread_id": threadID,
				}))
				continue
			}
			if toolName, found := strings.CutPrefix(u.Node, "toolchunk:"); found {
				emit(newEvent(EventToolCallChunks, map[string]any{
					"tool":      toolName,
					"content":   u.Chunk,
					"thread_id": threadID,
				}))
				continue
			}
			if toolName, found := strings.CutPrefix(u.Node, "tool:"); found {
				emit(newEvent(EventToolCallResult, map[string]any{
					"tool":      toolName,
					"content":   u.Chunk,
					"thread_id": threadID,
				}))
				continue
			}
			emit(newEvent(EventMessageChunk, map[string]any{
				"agent":     u.Node,
				"content":   u.Chunk,
				"thread_id": threadID,
			}))

		case graph.KindUpdate, graph.KindWaiting, graph.KindCheckpoint:
			if u.Node != lastNode {
				emit(newEvent(EventAgentStart, map[string]any{
					"agent":     u.Node,
					"thread_id": threadID,
				}))
				lastNode = u.Node
			}
			// assistant entries appended to the transcript since the last
			// snapshot are completed agent outputs
			if len(u.State.Messages) > seenMsgs {
				for _, m := range u.State.Messages[seenMsgs:] {
					if m.Role != "assistant" {
						continue
					}
					emit(newEvent(EventAgentOutput, map[string]any{
						"agent":     m.Agent,
						"content":   m.Content,
						"thread_id": threadID,
					}))
				}
				seenMsgs = len(u.State.Messages)
			}
			c.diffEntities(u.State.Objective, seenTasks, seenSteps, threadID, emit)
			payload := map[string]any{
				"node":      u.Node,
				"label":     u.Label,
				"thread_id": threadID,
			}
			if u.State.Objective != nil {
				payload["objective_status"] = string(u.State.Objective.Status)
			}
			if u.Kind == graph.KindWaiting {
				payload["waiting"] = true
			}
			emit(newEvent(EventStateUpdate, payload))
			emit(newEvent(EventProgressUpdate, map[string]any{
				"progress":  Progress(u.State.VisitedNodes),
				"thread_id": threadID,
			}))

		case graph.KindCancelled:
			c.finishRun(wf, u.State, research.WorkflowCancelled)
			emit(newEvent(EventCancelled, map[string]any{"thread_id": threadID}))
			return

		case graph.KindFinal:
			c.finishStream(wf, u, threadID, emit)
			return
		}
	}
}

// diffEntities announces tasks and steps that appeared or completed since
// the previous snapshot.
func (c *Controller) diffEntities(obj *research.Objective, seenTasks map[string]bool, seenSteps map[string]research.StepStatus, threadID string, emit func(Event)) {
	if obj == nil {
		return
	}
	for _, t := range obj.Tasks {
		if !seenTasks[t.ID] {
			seenTasks[t.ID] = true
			emit(newEvent(EventTaskCreated, map[string]any{
				"task_id":    t.ID,
				"title":      t.Title,
				"task_type":  string(t.Type),
				"priority":   t.Priority,
				"depends_on": t.DependsOn,
				"thread_id":  threadID,
			}))
		}
		for _, st := range t.Steps {
			prev, known := seenSteps[st.ID]
			if !known {
				seenSteps[st.ID] = st.Status
				emit(newEvent(EventStepCreated, map[string]any{
					"step_id":    st.ID,
					"task_id":    t.ID,
					"title":      st.Title,
					"agent_name": st.AgentName,
					"thread_id":  threadID,
				}))
				prev = st.Status
			}
			if st.Status == research.StepCompleted && prev != research.StepCompleted {
				summary, _ := st.OutputData["summary"].(string)
				emit(newEvent(EventStepCompleted, map[string]any{
					"step_id":   st.ID,
					"task_id":   t.ID,
					"summary":   summary,
					"thread_id": threadID,
				}))
			}
			seenSteps[st.ID] = st.Status
		}
	}
}

// finishStream handles the terminal update: paused runs emit an interrupt,
// failures emit an error, and completed runs emit the final report.
func (c *Controller) finishStream(wf *research.Workflow, u graph.Update[research.State], threadID string, emit func(Event)) {
	if errors.Is(u.Err, graph.ErrPaused) {
		c.persistSnapshot(wf, u.State)
		emit(newEvent(EventInterrupt, map[string]any{
			"thread_id": threadID,
			"message":   "workflow paused; reply to resume",
			"options":   []string{"resume", "cancel"},
		}))
		return
	}

	if u.Err != nil {
		c.finishRun(wf, u.State, research.WorkflowFailed)
		fe := research.Classify(u.Node, u.Err)
		emit(newEvent(EventError, map[string]any{
			"type":       string(fe.Type),
			"message":    fe.Message,
			"suggestion": suggestionFor(fe.Type),
			"thread_id":  threadID,
		}))
		return
	}

	obj := u.State.Objective
	if obj != nil && obj.Status == research.ObjectiveFailed {
		c.finishRun(wf, u.State, research.WorkflowFailed)
		emit(newEvent(EventError, map[string]any{
			"type":       "WorkflowFailed",
			"message":    obj.ErrorMessage,
			"suggestion": "inspect the objective's error history and retry",
			"thread_id":  threadID,
		}))
		return
	}

	c.finishRun(wf, u.State, research.WorkflowCompleted)
	emit(newEvent(EventProgressUpdate, map[string]any{
		"progress":  100,
		"thread_id": threadID,
	}))
	payload := map[string]any{
		"thread_id": threadID,
	}
	if obj != nil {
		payload["objective_id"] = obj.ID
		payload["report"] = obj.ResultSummary
	}
	if syn := u.State.Intermediate.SynthesisResult; syn != nil {
		payload["key_findings"] = syn.KeyFindings
		payload["sources"] = syn.Sources
	}
	emit(newEvent(EventFinalResult, payload))
}

// finishRun closes out the workflow row and, for cancellation, the objective
// itself. Best-effort: the stream already carries the outcome.
func (c *Controller) finishRun(wf *research.Workflow, state research.State, status research.WorkflowStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wf.Finish(status)
	if raw, err := state.Serialize(); err == nil {
		wf.SerializedState = raw
	}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}
		obj := state.Objective
		if obj == nil {
			return nil
		}
		if status == research.WorkflowCancelled {
			// the node that was mid-flight when cancellation landed may have
			// re-persisted live rows; write the cancelled tree back in full
			cancelRemaining(obj)
			if !obj.Status.Terminal() {
				_ = obj.Transition(research.ObjectiveCancelled)
			}
			if err := tx.UpsertObjective(ctx, obj); err != nil {
				return err
			}
			for _, t := range obj.Tasks {
				if err := persistTask(ctx, tx, t); err != nil {
					return err
				}
			}
			return nil
		}
		return tx.UpsertObjective(ctx, obj)
	})
	if err != nil {
		c.log.Warn("workflow finish persist failed", "workflow_id", wf.ID, "error", err)
	}
}

// persistSnapshot stores the paused run's state so a later request can
// resume it.
func (c *Controller) persistSnapshot(wf *research.Workflow, state research.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if raw, err := state.Serialize(); err == nil {
		wf.SerializedState = raw
	}
	wf.Status = research.WorkflowPaused
	if err := c.store.UpdateWorkflow(ctx, wf); err != nil {
		c.log.Warn("pause snapshot persist failed", "workflow_id", wf.ID, "error", err)
	}
}

// suggestionFor maps an error type to the client-facing hint carried on
// error events.
func suggestionFor(t research.ErrorType) string {
	switch t {
	case research.ErrTypeValidation:
		return "check the request parameters and retry"
	case research.ErrTypeAgent, research.ErrTypeTemporary:
		return "transient failure; retry the request"
	case research.ErrTypeDatabase:
		return "storage error; retry once the database is reachable"
	case research.ErrTypeNotFound:
		return "the referenced entity does not exist"
	default:
		return "inspect the workflow state and checkpoints"
	}
}

// Cancel terminates an objective: non-terminal tasks and steps are
// cancelled, the objective moves to CANCELLED, and its workflows are closed.
// Running graph executions observe the change at their next node boundary
// via the persisted status.
func (c *Controller) Cancel(ctx context.Context, objectiveID string) error {
	obj, err := c.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return err
	}
	if obj.Status.Terminal() {
		return &research.ValidationError{Message: "objective already terminal: " + string(obj.Status)}
	}

	cancelRemaining(obj)
	if err := obj.Transition(research.ObjectiveCancelled); err != nil {
		return err
	}

	workflows, err := c.store.ListWorkflows(ctx, objectiveID)
	if err != nil {
		return err
	}
	return c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertObjective(ctx, obj); err != nil {
			return err
		}
		for _, t := range obj.Tasks {
			if err := persistTask(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, wf := range workflows {
			if wf.Status.Terminal() {
				continue
			}
			wf.Finish(research.WorkflowCancelled)
			if err := tx.UpdateWorkflow(ctx, wf); err != nil {
				return err
			}
		}
		return nil
	})
}

// createRunWorkflow inserts a workflow row after verifying the objective has
// no other live one. At most one non-terminal workflow may exist per
// objective; without the guard a scheduler submit could race a streamed run
// on the same task rows.
func createRunWorkflow(ctx context.Context, tx store.Store, wf *research.Workflow) error {
	existing, err := tx.ListWorkflows(ctx, wf.ObjectiveID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if !other.Status.Terminal() {
			return &research.StateError{
				Message: "objective " + wf.ObjectiveID + " already has a live workflow " + other.ID,
			}
		}
	}
	return tx.CreateWorkflow(ctx, wf)
}

// cancelRemaining moves every non-terminal task and step of the objective to
// CANCELLED.
func cancelRemaining(obj *research.Objective) {
	for _, t := range obj.Tasks {
		for _, st := range t.Steps {
			if !st.Status.Terminal() && st.Status.CanTransition(research.StepCancelled) {
				_ = st.Transition(research.StepCancelled)
			}
		}
		if !t.Status.Terminal() && t.Status.CanTransition(research.TaskCancelled) {
			_ = t.Transition(research.TaskCancelled)
		}
	}
}

// RunTask implements the background scheduler's TaskRunner: it executes one
// scheduled task through the executor graph, stopping once the task reaches
// a terminal status so the run does not take over the rest of the objective.
func (c *Controller) RunTask(ctx context.Context, t *research.Task) error {
	obj, err := c.store.GetObjective(ctx, t.ObjectiveID)
	if err != nil {
		return err
	}
	scheduled := obj.Task(t.ID)
	if scheduled == nil {
		return research.ErrNotFound
	}
	if scheduled.Status.Terminal() {
		return nil
	}

	wf := research.NewWorkflow(obj.ID, research.GraphExecutor)
	wf.Start()
	err = c.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		return createRunWorkflow(ctx, tx, wf)
	})
	if err != nil {
		var se *research.StateError
		if errors.As(err, &se) && scheduled.Status == research.TaskScheduled {
			// another execution owns the objective; requeue so a later
			// scheduler tick retries once it finishes
			_ = c.store.UpdateTaskStatus(ctx, scheduled.ID, research.TaskReady, "")
		}
		return err
	}

	state := research.State{
		WorkflowID:    wf.ID,
		WorkflowKind:  research.GraphExecutor,
		ThreadID:      wf.ID,
		Objective:     obj,
		CurrentTaskID: scheduled.ID,
	}

	nodes := NewNodes(research.GraphExecutor, c.agents, c.store, c.tools, c.log)
	compiled, err := nodes.BuildGraph()
	if err != nil {
		return err
	}
	engine := graph.New[research.State](compiled,
		graph.WithErrorNode[research.State](NodeErrorHandler),
		graph.WithWait[research.State](WaitLabel, c.cfg.WaitBackoff),
		graph.WithMaxSteps[research.State](c.cfg.MaxSteps),
		graph.WithNodeTimeout[research.State](c.cfg.NodeTimeout),
		graph.WithCancelChecker[research.State](c.cancelChecker()),
		graph.WithLogger[research.State](c.log),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var final graph.Update[research.State]
	for u := range engine.ResumeFrom(runCtx, wf.ID, NodeTaskAnalyzer, state) {
		if u.Kind == graph.KindMessage {
			continue
		}
		final = u
		if u.Kind != graph.KindUpdate || u.State.Objective == nil {
			continue
		}
		if done := u.State.Objective.Task(scheduled.ID); done != nil && done.Status.Terminal() {
			cancel()
		}
	}

	status := research.WorkflowCompleted
	switch {
	case errors.Is(final.Err, graph.ErrCancelled):
		// the objective was cancelled through the API while this task ran
		status = research.WorkflowCancelled
	case final.Err != nil && final.Kind != graph.KindCancelled:
		status = research.WorkflowFailed
	}
	c.finishRun(wf, final.State, status)
	if status == research.WorkflowFailed {
		return final.Err
	}
	return nil
}
