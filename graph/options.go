package graph

import (
	"log/slog"
	"time"
)

// Options configures Engine execution behavior. Zero values are valid; the
// engine applies conservative defaults where it must.
type Options struct {
	// MaxSteps bounds the number of node executions in one run. When the
	// budget is hit the run terminates with ErrStepBudgetExceeded. The
	// default of 0 means DefaultMaxSteps.
	MaxSteps int

	// NodeTimeout bounds each node execution. 0 disables the bound.
	NodeTimeout time.Duration

	// ErrorNode receives control when the state reports a fault after a
	// node. Empty disables fault routing: a fault terminates the run.
	ErrorNode string

	// WaitLabel marks a conditional-routing label as a wait directive:
	// the engine emits a waiting update and re-enters the routed node
	// after WaitBackoff. Used by select_next_task when tasks are PENDING
	// on unmet dependencies but none are READY.
	WaitLabel string

	// WaitBackoff is the pause before re-entering after a wait route.
	// Defaults to DefaultWaitBackoff.
	WaitBackoff time.Duration

	// StreamBuffer is the capacity of the update channel. Defaults to
	// DefaultStreamBuffer.
	StreamBuffer int
}

// Defaults for zero-valued Options fields.
const (
	DefaultMaxSteps     = 100
	DefaultWaitBackoff  = 2 * time.Second
	DefaultStreamBuffer = 64
)

// Option is a functional option for configuring an Engine.
type Option[S Faulter] func(*Engine[S])

// WithMaxSteps bounds node executions per run.
func WithMaxSteps[S Faulter](n int) Option[S] {
	return func(e *Engine[S]) { e.opts.MaxSteps = n }
}

// WithNodeTimeout bounds each node execution.
func WithNodeTimeout[S Faulter](d time.Duration) Option[S] {
	return func(e *Engine[S]) { e.opts.NodeTimeout = d }
}

// WithErrorNode enables fault routing to the named node.
func WithErrorNode[S Faulter](name string) Option[S] {
	return func(e *Engine[S]) { e.opts.ErrorNode = name }
}

// WithWait configures the wait label and backoff.
func WithWait[S Faulter](label string, backoff time.Duration) Option[S] {
	return func(e *Engine[S]) {
		e.opts.WaitLabel = label
		e.opts.WaitBackoff = backoff
	}
}

// WithCheckpointer persists a snapshot after every node.
func WithCheckpointer[S Faulter](cp Checkpointer[S]) Option[S] {
	return func(e *Engine[S]) { e.checkpointer = cp }
}

// WithPauseChecker consults the authoritative pause flag at node boundaries.
func WithPauseChecker[S Faulter](pc PauseChecker) Option[S] {
	return func(e *Engine[S]) { e.pause = pc }
}

// WithCancelChecker consults the persisted workflow status at node boundaries
// so an API cancellation stops a running execution.
func WithCancelChecker[S Faulter](cc CancelChecker) Option[S] {
	return func(e *Engine[S]) { e.cancelCheck = cc }
}

// WithLogger attaches a structured logger; nil disables engine logging.
func WithLogger[S Faulter](log *slog.Logger) Option[S] {
	return func(e *Engine[S]) { e.log = log }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics[S Faulter](m *Metrics) Option[S] {
	return func(e *Engine[S]) { e.metrics = m }
}
