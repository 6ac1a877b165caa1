package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arclabs-io/researchgraph/graph/emit"
)

// Engine drives a single state value through a compiled graph one node at a
// time. It is the runtime behind every workflow:
//
//   - executes nodes strictly sequentially per run
//   - checks cancellation and the authoritative pause flag at every node
//     boundary
//   - routes faults to the configured error node ahead of static edges
//   - evaluates labeled conditional routing
//   - enforces the step budget and per-node timeouts
//   - persists a checkpoint after each node when configured
//   - yields update/message events over a channel
//
// Multiple runs may execute concurrently; they are isolated by holding
// disjoint state values. The engine itself is immutable after construction.
//
// Type parameter S is the state type; it must report recoverable faults via
// the Faulter interface.
type Engine[S Faulter] struct {
	graph        *Compiled[S]
	opts         Options
	checkpointer Checkpointer[S]
	pause        PauseChecker
	cancelCheck  CancelChecker
	emitter      emit.Emitter
	metrics      *Metrics
	log          *slog.Logger
}

// New creates an Engine over a compiled graph.
func New[S Faulter](g *Compiled[S], opts ...Option[S]) *Engine[S] {
	e := &Engine[S]{graph: g, emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		opt(e)
	}
	if e.opts.MaxSteps <= 0 {
		e.opts.MaxSteps = DefaultMaxSteps
	}
	if e.opts.WaitBackoff <= 0 {
		e.opts.WaitBackoff = DefaultWaitBackoff
	}
	if e.opts.StreamBuffer <= 0 {
		e.opts.StreamBuffer = DefaultStreamBuffer
	}
	if e.opts.ErrorNode != "" && !g.Has(e.opts.ErrorNode) {
		// misconfiguration surfaces on first run rather than silently
		// disabling fault routing
		e.log = e.logOrDefault()
		e.log.Warn("error node not registered; fault routing disabled", "node", e.opts.ErrorNode)
		e.opts.ErrorNode = ""
	}
	return e
}

// WithEmitter attaches an observability emitter.
func WithEmitter[S Faulter](em emit.Emitter) Option[S] {
	return func(e *Engine[S]) {
		if em != nil {
			e.emitter = em
		}
	}
}

func (e *Engine[S]) logOrDefault() *slog.Logger {
	if e.log != nil {
		return e.log
	}
	return slog.Default()
}

// Stream runs the graph from its entry node, yielding updates until the run
// terminates. The returned channel is closed when the run ends; the last
// update before close carries the terminal error, if any.
func (e *Engine[S]) Stream(ctx context.Context, runID string, initial S) <-chan Update[S] {
	return e.stream(ctx, runID, e.graph.Entry(), initial)
}

// ResumeFrom runs the graph starting at the named node with a restored
// state, used when seeding a new workflow from a checkpoint.
func (e *Engine[S]) ResumeFrom(ctx context.Context, runID, node string, state S) <-chan Update[S] {
	return e.stream(ctx, runID, node, state)
}

// Run drains a streaming execution and returns the final state.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var last Update[S]
	for u := range e.Stream(ctx, runID, initial) {
		if u.Kind != KindMessage {
			last = u
		}
	}
	return last.State, last.Err
}

// chanPublisher forwards agent chunks into the run's update channel.
type chanPublisher[S Faulter] struct {
	runID string
	ch    chan<- Update[S]
	ctx   context.Context
}

func (p *chanPublisher[S]) Publish(agent, chunk string) {
	select {
	case p.ch <- Update[S]{RunID: p.runID, Node: agent, Kind: KindMessage, Chunk: chunk}:
	case <-p.ctx.Done():
	}
}

func (e *Engine[S]) stream(ctx context.Context, runID, entry string, initial S) <-chan Update[S] {
	ch := make(chan Update[S], e.opts.StreamBuffer)
	go func() {
		defer close(ch)
		e.metrics.runStarted()
		defer e.metrics.runFinished()
		e.execute(ctx, runID, entry, initial, ch)
	}()
	return ch
}

// send delivers an update unless the consumer is gone.
func (e *Engine[S]) send(ctx context.Context, ch chan<- Update[S], u Update[S]) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine[S]) execute(ctx context.Context, runID, entry string, state S, ch chan<- Update[S]) {
	log := e.logOrDefault().With("run_id", runID)
	if !e.graph.Has(entry) {
		var zero S
		e.send(ctx, ch, Update[S]{RunID: runID, Kind: KindFinal, State: zero,
			Err: &EngineError{Message: "entry node not registered: " + entry, Code: "NODE_NOT_FOUND"}})
		return
	}

	nodeCtx := WithPublisher(ctx, &chanPublisher[S]{runID: runID, ch: ch, ctx: ctx})
	current := entry
	step := 0

	for {
		// Cancellation is checked at the start of every node.
		select {
		case <-ctx.Done():
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeCancelled, At: time.Now()})
			// the channel may be unconsumed once the caller is gone;
			// best-effort delivery only
			select {
			case ch <- Update[S]{RunID: runID, Node: current, Step: step, Kind: KindCancelled, State: state, Err: ctx.Err()}:
			default:
			}
			return
		default:
		}

		// An API cancellation lands on the workflow row; it wins over pause.
		if e.cancelCheck != nil {
			cancelled, err := e.cancelCheck(ctx, runID)
			if err == nil && cancelled {
				e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeCancelled, At: time.Now()})
				e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindCancelled, State: state, Err: ErrCancelled})
				return
			}
		}

		// The pause flag on the workflow row is authoritative.
		if e.pause != nil {
			paused, err := e.pause(ctx, runID)
			if err == nil && paused {
				e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: state, Err: ErrPaused})
				return
			}
		}

		step++
		if step > e.opts.MaxSteps {
			e.metrics.observeBudgetExceeded()
			e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: state, Err: ErrStepBudgetExceeded})
			return
		}

		e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeNodeStart, At: time.Now()})
		started := time.Now()
		result := e.runNode(nodeCtx, current, state)
		elapsed := time.Since(started)

		if result.Err != nil {
			e.metrics.observeStep(current, "error", elapsed)
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeError,
				Msg: result.Err.Error(), At: time.Now()})
			if errors.Is(result.Err, context.Canceled) {
				// ctx is already done here, so send best-effort rather than
				// racing the channel send against ctx.Done in a select
				select {
				case ch <- Update[S]{RunID: runID, Node: current, Step: step, Kind: KindCancelled, State: state, Err: result.Err}:
				default:
				}
				return
			}
			e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: state, Err: result.Err})
			return
		}

		state = result.State
		e.metrics.observeStep(current, "ok", elapsed)
		e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeNodeComplete,
			Meta: map[string]any{"duration_ms": elapsed.Milliseconds()}, At: time.Now()})

		if e.checkpointer != nil {
			if err := e.checkpointer.SaveCheckpoint(ctx, runID, current, state); err != nil {
				log.Warn("checkpoint save failed", "node", current, "error", err)
			} else {
				e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeCheckpoint, At: time.Now()})
			}
		}

		snapshot, err := deepCopy(state)
		if err != nil {
			e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: state, Err: err})
			return
		}

		// Terminal sink: final update, close.
		if current == e.graph.Finish() || result.Route.Terminal {
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeFinalResult, At: time.Now()})
			e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: snapshot})
			return
		}

		// Fault routing precedes static and conditional edges. The error
		// node itself is exempt so an unresolved fault terminates rather
		// than looping.
		if fault := state.Fault(); fault != nil && e.opts.ErrorNode != "" && current != e.opts.ErrorNode {
			e.metrics.observeFault(current, faultType(fault))
			if !e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindUpdate, State: snapshot}) {
				return
			}
			current = e.opts.ErrorNode
			continue
		}

		next := result.Route.To
		label := ""
		if next == "" {
			next, label, err = e.graph.nextAfter(current, state)
			if err != nil {
				e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: snapshot, Err: err})
				return
			}
		}
		if !e.graph.Has(next) {
			e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindFinal, State: snapshot,
				Err: &EngineError{Message: "route to unknown node: " + next, Code: "NODE_NOT_FOUND"}})
			return
		}

		// A wait route pauses before re-entering; select_next_task uses
		// this while tasks are PENDING on unmet dependencies.
		if e.opts.WaitLabel != "" && label == e.opts.WaitLabel {
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, Node: current, Type: emit.TypeWaiting, At: time.Now()})
			if !e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindWaiting, Label: label, State: snapshot}) {
				return
			}
			select {
			case <-time.After(e.opts.WaitBackoff):
			case <-ctx.Done():
				continue // cancellation handled at loop top
			}
			current = next
			continue
		}

		if !e.send(ctx, ch, Update[S]{RunID: runID, Node: current, Step: step, Kind: KindUpdate, Label: label, State: snapshot}) {
			return
		}
		current = next
	}
}

// runNode executes one node under the configured timeout, converting panics
// into engine errors so a handler bug cannot take down the process.
func (e *Engine[S]) runNode(ctx context.Context, name string, state S) (result NodeResult[S]) {
	node := e.graph.nodes[name]
	if node == nil {
		return NodeResult[S]{Err: &EngineError{Message: "node not found during execution: " + name, Code: "NODE_NOT_FOUND"}}
	}

	defer func() {
		if r := recover(); r != nil {
			result = NodeResult[S]{Err: &EngineError{
				Message: "node panicked: " + name,
				Code:    "NODE_PANIC",
			}}
		}
	}()

	if e.opts.NodeTimeout <= 0 {
		return node.Run(ctx, state)
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.NodeTimeout)
	defer cancel()

	done := make(chan NodeResult[S], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- NodeResult[S]{Err: &EngineError{Message: "node panicked: " + name, Code: "NODE_PANIC"}}
			}
		}()
		done <- node.Run(tctx, state)
	}()

	select {
	case res := <-done:
		return res
	case <-tctx.Done():
		if ctx.Err() != nil {
			return NodeResult[S]{Err: ctx.Err()}
		}
		return NodeResult[S]{Err: &EngineError{Message: "node timed out: " + name, Code: "NODE_TIMEOUT"}}
	}
}

// faultType extracts a coarse label for metrics from a fault error.
func faultType(err error) string {
	type typed interface{ FaultType() string }
	var t typed
	if errors.As(err, &t) {
		return t.FaultType()
	}
	return "unknown"
}
