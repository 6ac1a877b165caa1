package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests. Each call returns the next
// configured output; Err takes precedence. Safe for concurrent use.
type MockTool struct {
	// ToolName is returned by Name.
	ToolName string

	// Outputs is the output script, consumed in order; the last entry
	// repeats once exhausted.
	Outputs []map[string]interface{}

	// Err, when set, is returned instead of an output.
	Err error

	// Calls records every invocation's input.
	Calls []map[string]interface{}

	mu  sync.Mutex
	idx int
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Outputs) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.idx
	if idx >= len(m.Outputs) {
		idx = len(m.Outputs) - 1
	} else {
		m.idx++
	}
	return m.Outputs[idx], nil
}

// CallCount returns the number of invocations.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
