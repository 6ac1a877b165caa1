package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// APILimit configures one named external API.
type APILimit struct {
	RatePerSecond float64 // token-bucket refill rate
	Burst         int     // bucket size
	MaxConcurrent int     // simultaneous in-flight calls
}

// APIStats is per-API call accounting.
type APIStats struct {
	Name        string        `json:"name"`
	TotalCalls  int64         `json:"total_calls"`
	FailedCalls int64         `json:"failed_calls"`
	Throttled   int64         `json:"throttled"`
	AvgCallTime time.Duration `json:"avg_call_time"`
	InFlight    int           `json:"in_flight"`
}

type apiEntry struct {
	limiter *rate.Limiter
	sem     chan struct{}

	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	throttled   int64
	totalTime   time.Duration
}

// APIPool rate-limits named external APIs, each with its own token bucket
// and concurrency cap. Unregistered names are rejected so a new integration
// cannot silently run unmetered.
type APIPool struct {
	mu      sync.RWMutex
	apis    map[string]*apiEntry
	metrics *Metrics
}

// NewAPIPool creates an empty pool; register each API with RegisterAPI.
func NewAPIPool(metrics *Metrics) *APIPool {
	return &APIPool{apis: make(map[string]*apiEntry), metrics: metrics}
}

// RegisterAPI adds or replaces the limit for a named API.
func (p *APIPool) RegisterAPI(name string, limit APILimit) {
	if limit.RatePerSecond <= 0 {
		limit.RatePerSecond = 1
	}
	if limit.Burst < 1 {
		limit.Burst = 1
	}
	if limit.MaxConcurrent < 1 {
		limit.MaxConcurrent = 1
	}
	p.mu.Lock()
	p.apis[name] = &apiEntry{
		limiter: rate.NewLimiter(rate.Limit(limit.RatePerSecond), limit.Burst),
		sem:     make(chan struct{}, limit.MaxConcurrent),
	}
	p.mu.Unlock()
}

// Call runs fn against the named API under its rate and concurrency limits.
// High-priority callers skip the rate wait when a token is instantly
// available would not help; they still honor the concurrency cap.
func (p *APIPool) Call(ctx context.Context, name string, priority int, timeout time.Duration, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	e, ok := p.apis[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unregistered api %q", name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if priority >= PriorityOvercommit {
		// burst ahead of the bucket but still count the token
		e.limiter.ReserveN(time.Now(), 1)
	} else {
		if priority < PriorityWait {
			r := e.limiter.Reserve()
			if d := r.Delay(); d > maxLowPriorityWait {
				r.Cancel()
				e.recordThrottle()
				p.metrics.observeAdmission("api", "refused")
				return ErrUnavailable
			}
			r.Cancel()
		}
		if err := e.limiter.Wait(ctx); err != nil {
			e.recordThrottle()
			p.metrics.observeAdmission("api", "timeout")
			return ErrTimeout
		}
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		p.metrics.observeAdmission("api", "timeout")
		return ErrTimeout
	}
	defer func() { <-e.sem }()

	started := time.Now()
	err := fn(ctx)
	e.record(time.Since(started), err)
	if err != nil {
		p.metrics.observeAdmission("api", "failed")
		return err
	}
	p.metrics.observeAdmission("api", "ok")
	return nil
}

func (e *apiEntry) record(d time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	e.totalTime += d
	if err != nil {
		e.failedCalls++
	}
}

func (e *apiEntry) recordThrottle() {
	e.mu.Lock()
	e.throttled++
	e.mu.Unlock()
}

// Stats returns a snapshot per registered API, keyed by name.
func (p *APIPool) Stats() map[string]APIStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]APIStats, len(p.apis))
	for name, e := range p.apis {
		e.mu.Lock()
		s := APIStats{
			Name:        name,
			TotalCalls:  e.totalCalls,
			FailedCalls: e.failedCalls,
			Throttled:   e.throttled,
			InFlight:    len(e.sem),
		}
		if e.totalCalls > 0 {
			s.AvgCallTime = e.totalTime / time.Duration(e.totalCalls)
		}
		e.mu.Unlock()
		out[name] = s
	}
	return out
}
