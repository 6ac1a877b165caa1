package resource

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arclabs-io/researchgraph/research"
)

// stalenessFactor times the check interval gives the heartbeat expiry: a
// RUNNING task whose UpdatedAt is older than that is presumed dead.
const stalenessFactor = 5

// TaskStore is the slice of persistence the scheduler needs.
type TaskStore interface {
	// ListTasksByStatus returns tasks in the given status across all
	// objectives.
	ListTasksByStatus(ctx context.Context, status research.TaskStatus) ([]*research.Task, error)
	// UpdateTaskStatus transitions a task and records the error message
	// when the move is to FAILED.
	UpdateTaskStatus(ctx context.Context, taskID string, status research.TaskStatus, errMsg string) error
}

// TaskRunner executes one ready task; the flow controller implements it.
type TaskRunner interface {
	RunTask(ctx context.Context, task *research.Task) error
}

// SchedulerConfig tunes the background scheduler.
type SchedulerConfig struct {
	CheckInterval time.Duration // default 30s
	MaxSubmits    int           // ready tasks submitted per tick; default 4
}

// Scheduler periodically reaps stalled RUNNING tasks and submits READY tasks
// to the worker pool. Task UpdatedAt doubles as the heartbeat: node handlers
// bump it on every persist, so a stale timestamp means the owning workflow
// died without transitioning the task.
type Scheduler struct {
	cfg     SchedulerConfig
	store   TaskStore
	runner  TaskRunner
	workers *WorkerPool
	log     *slog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// SchedulerStatus is the admin snapshot served by the status endpoint.
type SchedulerStatus struct {
	Running       bool   `json:"running"`
	CheckInterval string `json:"check_interval"`
	MaxSubmits    int    `json:"max_submits_per_tick"`
	WorkersActive int    `json:"workers_active"`
}

// Status reports whether the loop is ticking and the effective tuning.
func (s *Scheduler) Status() SchedulerStatus {
	st := SchedulerStatus{
		Running:       s.running.Load(),
		CheckInterval: s.cfg.CheckInterval.String(),
		MaxSubmits:    s.cfg.MaxSubmits,
	}
	if s.workers != nil {
		st.WorkersActive = s.workers.Running()
	}
	return st
}

// NewScheduler wires the scheduler; call Start to begin ticking.
func NewScheduler(cfg SchedulerConfig, store TaskStore, runner TaskRunner, workers *WorkerPool, log *slog.Logger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxSubmits < 1 {
		cfg.MaxSubmits = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, store: store, runner: runner, workers: workers, log: log}
}

// Start launches the tick loop. It is not restartable after Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(ctx)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.running.Store(false)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one scheduler pass: reap stalled tasks, then submit ready ones.
// Exported so tests and admin endpoints can force a pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.reapStalled(ctx)
	s.submitReady(ctx)
}

func (s *Scheduler) reapStalled(ctx context.Context) {
	running, err := s.store.ListTasksByStatus(ctx, research.TaskRunning)
	if err != nil {
		s.log.Error("scheduler: list running tasks", "error", err)
		return
	}
	expiry := s.cfg.CheckInterval * stalenessFactor
	cutoff := research.Now().Add(-expiry)
	for _, t := range running {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		s.log.Warn("scheduler: reaping stalled task",
			"task_id", t.ID, "title", t.Title, "last_heartbeat", t.UpdatedAt)
		if err := s.store.UpdateTaskStatus(ctx, t.ID, research.TaskFailed, "heartbeat expired"); err != nil {
			s.log.Error("scheduler: fail stalled task", "task_id", t.ID, "error", err)
		}
	}
}

func (s *Scheduler) submitReady(ctx context.Context) {
	if s.runner == nil {
		return
	}
	ready, err := s.store.ListTasksByStatus(ctx, research.TaskReady)
	if err != nil {
		s.log.Error("scheduler: list ready tasks", "error", err)
		return
	}
	submitted := 0
	for _, t := range ready {
		if submitted >= s.cfg.MaxSubmits {
			return
		}
		task := t
		if err := s.store.UpdateTaskStatus(ctx, task.ID, research.TaskScheduled, ""); err != nil {
			s.log.Error("scheduler: schedule task", "task_id", task.ID, "error", err)
			continue
		}
		_, err := s.workers.Submit(func(ctx context.Context) (any, error) {
			return nil, s.runner.RunTask(ctx, task)
		})
		if err != nil {
			// worker pool full; flip back so the next tick retries
			s.log.Warn("scheduler: worker pool refused task", "task_id", task.ID, "error", err)
			if uerr := s.store.UpdateTaskStatus(ctx, task.ID, research.TaskReady, ""); uerr != nil {
				s.log.Error("scheduler: unschedule task", "task_id", task.ID, "error", uerr)
			}
			return
		}
		submitted++
		s.log.Info("scheduler: submitted task", "task_id", task.ID, "title", task.Title)
	}
}
