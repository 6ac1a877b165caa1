package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// funcAgent adapts a closure to the Agent interface for middleware wrapping.
type funcAgent struct {
	name string
	run  func(ctx context.Context, in Input) (Output, error)
}

func (f *funcAgent) Name() string                                      { return f.name }
func (f *funcAgent) Run(ctx context.Context, in Input) (Output, error) { return f.run(ctx, in) }

// WithLogging logs every agent call with duration and outcome.
func WithLogging(log *slog.Logger) Middleware {
	return func(next Agent) Agent {
		return &funcAgent{name: next.Name(), run: func(ctx context.Context, in Input) (Output, error) {
			started := time.Now()
			out, err := next.Run(ctx, in)
			elapsed := time.Since(started)
			if err != nil {
				log.Warn("agent call failed", "agent", next.Name(), "duration_ms", elapsed.Milliseconds(), "error", err)
				return out, err
			}
			log.Debug("agent call", "agent", next.Name(), "duration_ms", elapsed.Milliseconds(), "tokens", out.TokensUsed)
			return out, nil
		}}
	}
}

// Metrics instruments agent calls for Prometheus scraping.
type Metrics struct {
	latency *prometheus.HistogramVec
	calls   *prometheus.CounterVec
	tokens  *prometheus.CounterVec
}

// NewMetrics creates and registers agent metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researchgraph_agent_latency_seconds",
			Help:    "Agent call duration.",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"agent", "status"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_agent_calls_total",
			Help: "Agent calls by agent and status.",
		}, []string{"agent", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_agent_tokens_total",
			Help: "Provider-reported tokens consumed per agent.",
		}, []string{"agent"}),
	}
	if reg != nil {
		reg.MustRegister(m.latency, m.calls, m.tokens)
	}
	return m
}

// WithMetrics records latency, call counts and token usage.
func WithMetrics(m *Metrics) Middleware {
	return func(next Agent) Agent {
		return &funcAgent{name: next.Name(), run: func(ctx context.Context, in Input) (Output, error) {
			started := time.Now()
			out, err := next.Run(ctx, in)
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.latency.WithLabelValues(next.Name(), status).Observe(time.Since(started).Seconds())
			m.calls.WithLabelValues(next.Name(), status).Inc()
			if out.TokensUsed > 0 {
				m.tokens.WithLabelValues(next.Name()).Add(float64(out.TokensUsed))
			}
			return out, err
		}}
	}
}

// Admission gates agent calls on a rate-limited pool. The LLM resource pool
// satisfies this.
type Admission interface {
	// Acquire blocks until a slot is available per the pool's priority
	// policy, returning a release func.
	Acquire(ctx context.Context, priority int, timeout time.Duration) (func(), error)
}

// WithAdmission acquires an LLM slot before each call and releases it after.
func WithAdmission(pool Admission, priority int, timeout time.Duration) Middleware {
	return func(next Agent) Agent {
		return &funcAgent{name: next.Name(), run: func(ctx context.Context, in Input) (Output, error) {
			release, err := pool.Acquire(ctx, priority, timeout)
			if err != nil {
				return Output{}, err
			}
			defer release()
			return next.Run(ctx, in)
		}}
	}
}
