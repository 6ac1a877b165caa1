package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound means Poll or Await was asked about an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskTimedOut means the reaper marked the task failed because it exceeded
// its execution budget. The underlying goroutine may still be running; its
// eventual result is dropped.
var ErrTaskTimedOut = errors.New("task execution timed out")

// TaskState is the lifecycle of a submitted background task.
type TaskState string

const (
	TaskQueued    TaskState = "QUEUED"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

// TaskStatus is a snapshot of one background task.
type TaskStatus struct {
	ID          string
	State       TaskState
	Result      any
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// WorkerFunc is a unit of background work.
type WorkerFunc func(ctx context.Context) (any, error)

// WorkerPoolConfig tunes the worker pool.
type WorkerPoolConfig struct {
	Workers     int           // concurrent goroutines; default 4
	QueueSize   int           // pending task buffer; default 64
	TaskTimeout time.Duration // per-task execution budget; default 300s
	ResultTTL   time.Duration // how long finished results stay pollable; default 10m
}

type workerTask struct {
	id     string
	fn     WorkerFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// WorkerPool runs background tasks on a fixed set of goroutines. Submitted
// tasks get an ID immediately; results are retrieved by Poll or Await. A
// reaper marks tasks failed once they exceed TaskTimeout even when the work
// itself ignores cancellation.
type WorkerPool struct {
	cfg   WorkerPoolConfig
	queue chan *workerTask
	done  chan struct{}
	wg    sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*TaskStatus
	waits map[string][]chan struct{}

	metrics *Metrics
}

// NewWorkerPool creates the pool and starts its workers and reaper.
func NewWorkerPool(cfg WorkerPoolConfig, metrics *Metrics) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 300 * time.Second
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 10 * time.Minute
	}
	p := &WorkerPool{
		cfg:     cfg,
		queue:   make(chan *workerTask, cfg.QueueSize),
		done:    make(chan struct{}),
		tasks:   make(map[string]*TaskStatus),
		waits:   make(map[string][]chan struct{}),
		metrics: metrics,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.reapLoop()
	return p
}

// Submit enqueues fn and returns its task ID. It fails fast when the queue
// is full rather than blocking the caller.
func (p *WorkerPool) Submit(fn WorkerFunc) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	t := &workerTask{id: id, fn: fn, ctx: ctx, cancel: cancel}

	p.mu.Lock()
	p.tasks[id] = &TaskStatus{ID: id, State: TaskQueued, SubmittedAt: time.Now()}
	p.mu.Unlock()

	select {
	case p.queue <- t:
		p.metrics.observeAdmission("worker", "queued")
		return id, nil
	case <-p.done:
		cancel()
		p.finish(id, nil, ErrPoolClosed)
		return "", ErrPoolClosed
	default:
		cancel()
		p.mu.Lock()
		delete(p.tasks, id)
		p.mu.Unlock()
		p.metrics.observeAdmission("worker", "refused")
		return "", ErrUnavailable
	}
}

// Poll returns the task's current status without blocking.
func (p *WorkerPool) Poll(id string) (TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.tasks[id]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *st, nil
}

// Await blocks until the task finishes or the timeout elapses.
func (p *WorkerPool) Await(id string, timeout time.Duration) (TaskStatus, error) {
	p.mu.Lock()
	st, ok := p.tasks[id]
	if !ok {
		p.mu.Unlock()
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if st.State == TaskCompleted || st.State == TaskFailed {
		out := *st
		p.mu.Unlock()
		return out, nil
	}
	ch := make(chan struct{})
	p.waits[id] = append(p.waits[id], ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return p.Poll(id)
	case <-time.After(timeout):
		return TaskStatus{}, ErrTimeout
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		case <-p.done:
			return
		}
	}
}

func (p *WorkerPool) run(t *workerTask) {
	defer t.cancel()

	p.mu.Lock()
	st, ok := p.tasks[t.id]
	if !ok || st.State != TaskQueued {
		// already reaped while queued
		p.mu.Unlock()
		return
	}
	st.State = TaskRunning
	st.StartedAt = time.Now()
	p.mu.Unlock()

	result, err := p.call(t)
	p.finish(t.id, result, err)
}

func (p *WorkerPool) call(t *workerTask) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(t.ctx)
}

// finish records the outcome unless the reaper already failed the task.
func (p *WorkerPool) finish(id string, result any, err error) {
	p.mu.Lock()
	st, ok := p.tasks[id]
	if !ok || st.State == TaskCompleted || st.State == TaskFailed {
		p.mu.Unlock()
		return
	}
	st.FinishedAt = time.Now()
	st.Result = result
	st.Err = err
	if err != nil {
		st.State = TaskFailed
	} else {
		st.State = TaskCompleted
	}
	waiters := p.waits[id]
	delete(p.waits, id)
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if err != nil {
		p.metrics.observeAdmission("worker", "failed")
	} else {
		p.metrics.observeAdmission("worker", "completed")
	}
}

func (p *WorkerPool) reapLoop() {
	interval := p.cfg.TaskTimeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
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

// reap fails tasks past their budget and drops finished results past TTL.
func (p *WorkerPool) reap(now time.Time) {
	p.mu.Lock()
	var expired []string
	for id, st := range p.tasks {
		switch st.State {
		case TaskQueued, TaskRunning:
			deadline := st.SubmittedAt.Add(p.cfg.TaskTimeout)
			if st.State == TaskRunning {
				deadline = st.StartedAt.Add(p.cfg.TaskTimeout)
			}
			if now.After(deadline) {
				expired = append(expired, id)
			}
		case TaskCompleted, TaskFailed:
			if now.Sub(st.FinishedAt) > p.cfg.ResultTTL {
				delete(p.tasks, id)
			}
		}
	}
	p.mu.Unlock()

	for _, id := range expired {
		p.finish(id, nil, ErrTaskTimedOut)
		p.metrics.observeAdmission("worker", "timeout")
	}
}

// Running reports the number of queued or running tasks.
func (p *WorkerPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, st := range p.tasks {
		if st.State == TaskQueued || st.State == TaskRunning {
			n++
		}
	}
	return n
}

// Close stops the workers. Queued tasks that never started are failed.
func (p *WorkerPool) Close() {
	close(p.done)
	p.wg.Wait()

	for {
		select {
		case t := <-p.queue:
			t.cancel()
			p.finish(t.id, nil, ErrPoolClosed)
		default:
			return
		}
	}
}
