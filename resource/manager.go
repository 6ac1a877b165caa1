package resource

import (
	"context"
	"time"
)

// ManagerConfig tunes every pool the manager owns.
type ManagerConfig struct {
	LLMConcurrency int
	LLMRate        int
	LLMWindow      time.Duration

	DB DBPoolConfig

	Workers WorkerPoolConfig

	APIs map[string]APILimit
}

// DefaultManagerConfig returns conservative limits suitable for a single
// provider key.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LLMConcurrency: 4,
		LLMRate:        60,
		LLMWindow:      time.Minute,
		DB: DBPoolConfig{
			MaxOpen:     10,
			IdleTimeout: 5 * time.Minute,
			MaxAge:      30 * time.Minute,
		},
		Workers: WorkerPoolConfig{
			Workers:     4,
			QueueSize:   64,
			TaskTimeout: 300 * time.Second,
		},
	}
}

// Status is a snapshot across every pool, served by the status endpoint.
type Status struct {
	LLM     LLMStats            `json:"llm"`
	DBOpen  int                 `json:"db_open"`
	DBIdle  int                 `json:"db_idle"`
	Workers int                 `json:"workers_active"`
	APIs    map[string]APIStats `json:"apis"`
}

// Manager owns the four pools and hands them to the layers that need them.
// The DB pool is optional; callers that persist through database/sql or pgx
// directly pass a nil factory and DB() returns nil.
type Manager struct {
	llm     *LLMPool
	db      *DBPool
	workers *WorkerPool
	apis    *APIPool
}

// NewManager builds every pool from cfg. dbFactory may be nil.
func NewManager(cfg ManagerConfig, dbFactory ConnFactory, metrics *Metrics) *Manager {
	m := &Manager{
		llm:     NewLLMPool(cfg.LLMConcurrency, cfg.LLMRate, cfg.LLMWindow, metrics),
		workers: NewWorkerPool(cfg.Workers, metrics),
		apis:    NewAPIPool(metrics),
	}
	if dbFactory != nil {
		m.db = NewDBPool(cfg.DB, dbFactory, metrics)
	}
	for name, limit := range cfg.APIs {
		m.apis.RegisterAPI(name, limit)
	}
	return m
}

// LLM returns the LLM admission pool.
func (m *Manager) LLM() *LLMPool { return m.llm }

// DB returns the connection pool, or nil when none was configured.
func (m *Manager) DB() *DBPool { return m.db }

// Workers returns the background worker pool.
func (m *Manager) Workers() *WorkerPool { return m.workers }

// APIs returns the named external API pool.
func (m *Manager) APIs() *APIPool { return m.apis }

// Acquire admits one LLM call; it forwards to the LLM pool so the manager
// itself satisfies the agent admission contract.
func (m *Manager) Acquire(ctx context.Context, priority int, timeout time.Duration) (func(), error) {
	return m.llm.Acquire(ctx, priority, timeout)
}

// Status snapshots every pool.
func (m *Manager) Status() Status {
	s := Status{
		LLM:     m.llm.Stats(),
		Workers: m.workers.Running(),
		APIs:    m.apis.Stats(),
	}
	if m.db != nil {
		s.DBOpen = m.db.Open()
		s.DBIdle = m.db.Idle()
	}
	return s
}

// Close shuts every pool down.
func (m *Manager) Close() error {
	m.llm.Close()
	m.workers.Close()
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
