package flow

// SSE event types emitted by the streaming controller. These names are the
// wire contract with stream consumers.
const (
	EventAgentStart       = "agent_start"
	EventAgentOutput      = "agent_output"
	EventMessageChunk     = "message_chunk"
	EventToolCalls        = "tool_calls"
	EventToolCallChunks   = "tool_call_chunks"
	EventToolCallResult   = "tool_call_result"
	EventInterrupt        = "interrupt"
	EventObjectiveCreated = "objective_created"
	EventTaskCreated      = "task_created"
	EventStepCreated      = "step_created"
	EventStepCompleted    = "step_completed"
	EventProgressUpdate   = "progress_update"
	EventStateUpdate      = "state_update"
	EventError            = "error"
	EventFinalResult      = "final_result"
	EventCancelled        = "cancelled"
)

// Event is one server-sent event: a type from the taxonomy above and a
// JSON-marshalable payload. Payload maps omit empty content fields before
// marshaling; the SSE writer renders Data as a single JSON line.
type Event struct {
	Type string
	Data map[string]any
}

// newEvent builds an event, dropping empty string values from the payload to
// keep frames small.
func newEvent(typ string, data map[string]any) Event {
	for k, v := range data {
		if s, isStr := v.(string); isStr && s == "" {
			delete(data, k)
		}
	}
	return Event{Type: typ, Data: data}
}
