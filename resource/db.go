package resource

import (
	"context"
	"sync"
	"time"
)

// Conn is a pooled resource. Database handles, broker channels and other
// closable clients all qualify.
type Conn interface {
	Close() error
}

// ConnFactory opens a fresh connection.
type ConnFactory func(ctx context.Context) (Conn, error)

// DBPoolConfig tunes the connection pool.
type DBPoolConfig struct {
	MaxOpen     int           // hard cap on open connections
	IdleTimeout time.Duration // idle connections older than this are reaped
	MaxAge      time.Duration // connections older than this are replaced on checkout
	ReapEvery   time.Duration // reaper interval; defaults to IdleTimeout/2
}

type pooledConn struct {
	conn     Conn
	openedAt time.Time
	idleAt   time.Time
}

// DBPool is a bounded connection pool with LIFO reuse, so the hot connection
// stays hot and the cold tail ages out. A background reaper closes idle
// connections past IdleTimeout; connections past MaxAge are replaced on
// checkout. When the pool is saturated, a checkout with priority >=
// PriorityOvercommit opens past MaxOpen rather than waiting; the surplus is
// closed as connections return.
type DBPool struct {
	mu      sync.Mutex
	cfg     DBPoolConfig
	factory ConnFactory
	idle    []*pooledConn // LIFO: top of stack is the most recently released
	open    int
	waiters []chan *pooledConn
	closed  bool
	done    chan struct{}

	metrics *Metrics
}

// NewDBPool creates the pool and starts its reaper.
func NewDBPool(cfg DBPoolConfig, factory ConnFactory, metrics *Metrics) *DBPool {
	if cfg.MaxOpen < 1 {
		cfg.MaxOpen = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReapEvery <= 0 {
		cfg.ReapEvery = cfg.IdleTimeout / 2
	}
	p := &DBPool{
		cfg:     cfg,
		factory: factory,
		done:    make(chan struct{}),
		metrics: metrics,
	}
	go p.reapLoop()
	return p
}

// Get checks out a connection. Saturation behavior depends on priority:
// high-priority callers evict the oldest idle connection when none is free,
// everyone else waits for a release or ctx.
func (p *DBPool) Get(ctx context.Context, priority int) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	now := time.Now()
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.cfg.MaxAge > 0 && now.Sub(pc.openedAt) > p.cfg.MaxAge {
			p.open--
			p.mu.Unlock()
			pc.conn.Close()
			p.mu.Lock()
			continue
		}
		p.mu.Unlock()
		p.metrics.observeAdmission("db", "reused")
		return pc.conn, nil
	}

	if p.open < p.cfg.MaxOpen {
		p.open++
		p.mu.Unlock()
		conn, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			p.metrics.observeAdmission("db", "open_failed")
			return nil, err
		}
		p.metrics.observeAdmission("db", "opened")
		p.metrics.setOccupancy("db", p.Open())
		return conn, nil
	}

	if priority >= PriorityOvercommit {
		// open beyond MaxOpen; the surplus is trimmed when connections
		// come back, so high-priority work never waits on the pool
		p.open++
		p.mu.Unlock()
		conn, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			p.metrics.observeAdmission("db", "open_failed")
			return nil, err
		}
		p.metrics.observeAdmission("db", "overcommit")
		return conn, nil
	}

	ch := make(chan *pooledConn, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case pc := <-ch:
		if pc == nil {
			return nil, ErrPoolClosed
		}
		p.metrics.observeAdmission("db", "reused")
		return pc.conn, nil
	case <-ctx.Done():
		p.dropWaiter(ch)
		p.metrics.observeAdmission("db", "timeout")
		return nil, ErrTimeout
	}
}

// Put returns a connection to the pool. A waiter gets it directly; otherwise
// it lands on top of the idle stack.
func (p *DBPool) Put(conn Conn) {
	p.mu.Lock()
	if p.closed {
		p.open--
		p.mu.Unlock()
		conn.Close()
		return
	}
	now := time.Now()
	pc := &pooledConn{conn: conn, openedAt: now, idleAt: now}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- pc
		return
	}
	if p.open > p.cfg.MaxOpen {
		// trim overcommit surplus instead of pooling it
		p.open--
		p.mu.Unlock()
		conn.Close()
		p.metrics.observeEviction("db")
		return
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Discard reports a connection as broken; it is closed and its slot freed.
func (p *DBPool) Discard(conn Conn) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	conn.Close()
	p.metrics.setOccupancy("db", p.Open())
}

// Open reports the number of open connections, in use or idle.
func (p *DBPool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Idle reports the number of idle connections.
func (p *DBPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *DBPool) dropWaiter(ch chan *pooledConn) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	// a Put may have raced the drop; recycle it
	select {
	case pc := <-ch:
		if pc != nil {
			p.Put(pc.conn)
		}
	default:
	}
}

func (p *DBPool) reapLoop() {
	ticker := time.NewTicker(p.cfg.ReapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reap(time.Now())
		case <-p.done:
			return
		}
	}
}

func (p *DBPool) reap(now time.Time) {
	p.mu.Lock()
	var stale []*pooledConn
	kept := p.idle[:0]
	for _, pc := range p.idle {
		expired := now.Sub(pc.idleAt) > p.cfg.IdleTimeout ||
			(p.cfg.MaxAge > 0 && now.Sub(pc.openedAt) > p.cfg.MaxAge)
		if expired {
			stale = append(stale, pc)
			p.open--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.mu.Unlock()
	for _, pc := range stale {
		pc.conn.Close()
		p.metrics.observeEviction("db")
	}
	p.metrics.setOccupancy("db", p.Open())
}

// Close stops the reaper and closes all idle connections. Connections in use
// are closed when returned.
func (p *DBPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- nil
	}
	var firstErr error
	for _, pc := range idle {
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
