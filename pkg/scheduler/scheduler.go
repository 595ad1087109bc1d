// Package scheduler runs named periodic tasks in-process. It deliberately
// has no persistence: every task this subsystem schedules is idempotent and
// safe to re-run, so a missed tick after a restart costs nothing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrTaskAlreadyRegistered = errors.New("task with this name is already registered")
	ErrTaskNotFound          = errors.New("task is not registered")
	ErrNoTasksRegistered     = errors.New("scheduler has no registered tasks")
)

// TaskFunc is the body of a periodic task. Returning an error only logs it;
// the task stays on its schedule.
type TaskFunc func(ctx context.Context) error

// Scheduler runs registered tasks on their schedules.
type Scheduler struct {
	mu            sync.RWMutex
	tasks         map[string]*scheduledTask
	checkInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

type scheduledTask struct {
	name      string
	schedule  Schedule
	fn        TaskFunc
	nextRunAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often due tasks are checked. Default 30s.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:         make(map[string]*scheduledTask),
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// AddTask registers a periodic task under a unique name. The first run
// happens at the schedule's next point after registration, not immediately.
func (s *Scheduler) AddTask(name string, schedule Schedule, fn TaskFunc) error {
	if name == "" || schedule == nil || fn == nil {
		return errors.New("scheduler: name, schedule and fn are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[name] = &scheduledTask{
		name:      name,
		schedule:  schedule,
		fn:        fn,
		nextRunAt: schedule.Next(s.now()),
	}

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Start blocks running the tick loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	count := len(s.tasks)
	s.mu.RUnlock()
	if count == 0 {
		return ErrNoTasksRegistered
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue executes every task whose next run time has passed, sequentially.
// Sequential execution keeps overlapping sweeps of the same data impossible.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]*scheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !task.nextRunAt.After(now) {
			task.nextRunAt = task.schedule.Next(now)
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *scheduledTask) {
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("periodic task panicked",
				slog.String("task_name", task.name),
				slog.Any("panic", r))
		}
	}()

	if err := task.fn(ctx); err != nil {
		s.logger.Error("periodic task failed",
			slog.String("task_name", task.name),
			slog.Duration("took", s.now().Sub(started)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("periodic task completed",
		slog.String("task_name", task.name),
		slog.Duration("took", s.now().Sub(started)))
}

// RunTask executes a registered task immediately, outside its schedule.
// The schedule is unaffected.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return task.fn(ctx)
}

// ListTasks returns the names of all registered tasks.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
