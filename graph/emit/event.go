// Package emit defines the observability event taxonomy for workflow
// execution and pluggable emitter backends (log, buffered, OpenTelemetry).
package emit

import "time"

// EventType enumerates the event taxonomy shared by the engine, the stream
// controller, and the SSE surface.
type EventType string

const (
	TypeAgentStart       EventType = "agent_start"
	TypeAgentOutput      EventType = "agent_output"
	TypeMessageChunk     EventType = "message_chunk"
	TypeToolCalls        EventType = "tool_calls"
	TypeToolCallChunks   EventType = "tool_call_chunks"
	TypeToolCallResult   EventType = "tool_call_result"
	TypeInterrupt        EventType = "interrupt"
	TypeObjectiveCreated EventType = "objective_created"
	TypeTaskCreated      EventType = "task_created"
	TypeStepCreated      EventType = "step_created"
	TypeStepCompleted    EventType = "step_completed"
	TypeProgressUpdate   EventType = "progress_update"
	TypeStateUpdate      EventType = "state_update"
	TypeError            EventType = "error"
	TypeFinalResult      EventType = "final_result"
	TypeCancelled        EventType = "cancelled"

	// Engine-internal types, not part of the SSE surface.
	TypeNodeStart    EventType = "node_start"
	TypeNodeComplete EventType = "node_complete"
	TypeCheckpoint   EventType = "checkpoint"
	TypeWaiting      EventType = "waiting"
)

// Event is one observability event from a workflow run.
type Event struct {
	// RunID identifies the workflow execution.
	RunID string `json:"run_id"`

	// Step is the sequential node-execution counter (1-indexed); zero for
	// run-level events.
	Step int `json:"step,omitempty"`

	// Node identifies the node that produced the event; empty for
	// run-level events.
	Node string `json:"node,omitempty"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Msg is a human-readable description.
	Msg string `json:"msg,omitempty"`

	// Meta carries event-specific structured data: durations, error
	// details, entity IDs, progress percentages.
	Meta map[string]any `json:"meta,omitempty"`

	// At is the emission time.
	At time.Time `json:"at"`
}

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use, must not block the
// engine, and must not panic; backend failures are swallowed or logged
// internally.
type Emitter interface {
	Emit(event Event)
}

// Multi fans one event out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
