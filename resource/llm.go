package resource

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// maxLowPriorityWait bounds how long a below-PriorityWait caller may be asked
// to wait; a longer projected wait refuses immediately.
const maxLowPriorityWait = 5 * time.Second

// LLMStats is a point-in-time snapshot of LLM pool accounting.
type LLMStats struct {
	TotalRequests   int64         `json:"total_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	Timeouts        int64         `json:"timeouts"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	InFlight        int           `json:"in_flight"`
	WindowUsed      int           `json:"window_used"`
	BreakerState    string        `json:"breaker_state"`
}

// LLMPool gates LLM calls with bounded concurrency plus a sliding-window
// rate limit of R requests per window W. Admission is priority-aware:
//
//   - priority >= 80: admitted immediately even when the window is full,
//     accounted against the next slot (overcommit)
//   - priority in [50,80): waits until the window tail frees a slot
//   - priority < 50: refused when the projected wait exceeds 5s
//
// A circuit breaker trips after consecutive provider failures so a dead
// provider fails fast instead of burning the window.
type LLMPool struct {
	mu       sync.Mutex
	window   []time.Time // admission timestamps within the rate window
	rate     int
	interval time.Duration

	sem    chan struct{}
	closed bool

	breaker *gobreaker.CircuitBreaker

	totalRequests  int64
	failedRequests int64
	timeouts       int64
	totalLatency   time.Duration
	latencyCount   int64

	metrics *Metrics
}

// NewLLMPool creates a pool with concurrency limit n and a rate limit of
// rate requests per interval.
func NewLLMPool(n, rate int, interval time.Duration, metrics *Metrics) *LLMPool {
	if n < 1 {
		n = 1
	}
	if rate < 1 {
		rate = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LLMPool{
		rate:     rate,
		interval: interval,
		sem:      make(chan struct{}, n),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		metrics: metrics,
	}
}

// Acquire admits one LLM call per the priority policy and returns a release
// func. It satisfies the agent admission middleware contract.
func (p *LLMPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.admit(ctx, priority); err != nil {
		return nil, err
	}

	// concurrency gate after rate admission; slots free quickly relative
	// to the window
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.recordTimeout()
		return nil, ErrTimeout
	}

	released := false
	return func() {
		if !released {
			released = true
			<-p.sem
		}
	}, nil
}

// admit blocks until the sliding window accepts the caller, per priority.
func (p *LLMPool) admit(ctx context.Context, priority int) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		now := time.Now()
		p.trimWindow(now)

		if len(p.window) < p.rate || priority >= PriorityOvercommit {
			p.window = append(p.window, now)
			p.totalRequests++
			p.mu.Unlock()
			p.metrics.observeAdmission("llm", "admitted")
			return nil
		}

		// window full: the oldest entry expiring frees the next slot
		wait := p.window[0].Add(p.interval).Sub(now)
		p.mu.Unlock()

		if priority < PriorityWait && wait > maxLowPriorityWait {
			p.metrics.observeAdmission("llm", "refused")
			return ErrUnavailable
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			p.recordTimeout()
			return ErrTimeout
		}
	}
}

// trimWindow drops timestamps older than the window. Callers hold p.mu.
func (p *LLMPool) trimWindow(now time.Time) {
	cutoff := now.Add(-p.interval)
	i := 0
	for i < len(p.window) && !p.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		p.window = append(p.window[:0], p.window[i:]...)
	}
}

// Do runs one LLM call under admission, the breaker and latency accounting.
func (p *LLMPool) Do(ctx context.Context, priority int, timeout time.Duration, fn func(ctx context.Context) error) error {
	release, err := p.Acquire(ctx, priority, timeout)
	if err != nil {
		return err
	}
	defer release()

	started := time.Now()
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	p.recordResult(time.Since(started), err)
	return err
}

func (p *LLMPool) recordResult(d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalLatency += d
	p.latencyCount++
	if err != nil {
		p.failedRequests++
	}
}

func (p *LLMPool) recordTimeout() {
	p.mu.Lock()
	p.timeouts++
	p.mu.Unlock()
	p.metrics.observeAdmission("llm", "timeout")
}

// Stats returns a snapshot of pool accounting.
func (p *LLMPool) Stats() LLMStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trimWindow(time.Now())
	s := LLMStats{
		TotalRequests:  p.totalRequests,
		FailedRequests: p.failedRequests,
		Timeouts:       p.timeouts,
		InFlight:       len(p.sem),
		WindowUsed:     len(p.window),
		BreakerState:   p.breaker.State().String(),
	}
	if p.latencyCount > 0 {
		s.AvgResponseTime = p.totalLatency / time.Duration(p.latencyCount)
	}
	return s
}

// Close refuses further admissions. In-flight calls finish normally.
func (p *LLMPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
