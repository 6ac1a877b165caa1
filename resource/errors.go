// Package resource provides the bounded pools that gate access to external
// capacity: LLM requests, database connections, worker goroutines and named
// external APIs. A background scheduler reaps stalled tasks and submits
// ready work.
package resource

import "errors"

// ErrUnavailable means the pool refused admission (saturated and the caller's
// priority does not warrant waiting).
var ErrUnavailable = errors.New("resource unavailable")

// ErrTimeout means the caller's wait budget elapsed before a slot freed.
var ErrTimeout = errors.New("resource acquisition timed out")

// ErrPoolClosed means the pool has been shut down.
var ErrPoolClosed = errors.New("pool closed")

// Priority thresholds for admission decisions, on the 0-100 scale.
const (
	// PriorityOvercommit and above is admitted even when the rate window
	// is full, accounted against the next slot.
	PriorityOvercommit = 80

	// PriorityWait and above waits to the window tail; below it, callers
	// are refused when the projected wait exceeds maxLowPriorityWait.
	PriorityWait = 50
)
