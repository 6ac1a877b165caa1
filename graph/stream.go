package graph

import "context"

// UpdateKind classifies events yielded by Engine.Stream.
type UpdateKind string

const (
	// KindUpdate means a node finished and the payload is the new state.
	KindUpdate UpdateKind = "update"

	// KindMessage is a streaming chunk published by an agent mid-node.
	KindMessage UpdateKind = "message"

	// KindWaiting means routing chose the wait label; the engine re-enters
	// the same node after the configured backoff.
	KindWaiting UpdateKind = "waiting"

	// KindCheckpoint means a checkpoint was persisted after a node.
	KindCheckpoint UpdateKind = "checkpoint"

	// KindCancelled means the caller's cancellation signal was observed.
	KindCancelled UpdateKind = "cancelled"

	// KindFinal is the terminal update emitted at the sink node; the
	// channel is closed immediately after.
	KindFinal UpdateKind = "final"
)

// Update is one event yielded by a streaming run.
type Update[S any] struct {
	RunID string
	Node  string
	Step  int
	Kind  UpdateKind

	// Label is the conditional-routing label taken out of Node, empty for
	// static edges and non-update kinds.
	Label string

	// State is the state after Node completed. Valid for update, waiting,
	// checkpoint, cancelled and final kinds.
	State S

	// Chunk is the agent-produced text for message events.
	Chunk string

	// Err carries the terminal error for the run, set at most on the last
	// event before the channel closes.
	Err error
}

// Publisher lets node internals (agents, tools) push message chunks into the
// active run's stream without threading a channel through every call.
type Publisher interface {
	// Publish emits one streaming chunk attributed to the named agent.
	Publish(agent, chunk string)
}

type publisherKey struct{}

// WithPublisher attaches a Publisher to the context handed to nodes.
func WithPublisher(ctx context.Context, p Publisher) context.Context {
	return context.WithValue(ctx, publisherKey{}, p)
}

// PublisherFrom extracts the run's Publisher, or nil when the run is not
// streaming.
func PublisherFrom(ctx context.Context) Publisher {
	p, _ := ctx.Value(publisherKey{}).(Publisher)
	return p
}

// PublishChunk emits a chunk if the context carries a Publisher, else drops it.
func PublishChunk(ctx context.Context, agent, chunk string) {
	if p := PublisherFrom(ctx); p != nil {
		p.Publish(agent, chunk)
	}
}
