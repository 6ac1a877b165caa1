package emit

import "sync"

// BufferedEmitter captures events in memory, organized by run ID, and offers
// query access to execution history. It backs the workflow state snapshot
// endpoint and deterministic tests.
//
// All events are retained until cleared; long-lived production runs should
// clear finished runs or use a different backend.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects a subset of a run's history. Zero-valued fields do
// not filter; set fields combine with AND.
type HistoryFilter struct {
	Node    string
	Type    EventType
	MinStep int
	MaxStep int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events for a run in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evs := b.events[runID]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// HistoryWithFilter returns the events for a run matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(runID string, f HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events[runID] {
		if f.Node != "" && ev.Node != f.Node {
			continue
		}
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if f.MinStep > 0 && ev.Step < f.MinStep {
			continue
		}
		if f.MaxStep > 0 && ev.Step > f.MaxStep {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the history of one run; Clear("") drops everything.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
