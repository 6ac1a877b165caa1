package emit

// NullEmitter discards all events. Zero overhead, safe for concurrent use.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit implements Emitter as a no-op.
func (*NullEmitter) Emit(Event) {}
