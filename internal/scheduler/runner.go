// Package scheduler runs the recurring background jobs of the service:
// the daily SMAP ingestion cycle and the daily secure-update check.
// Each task ticks on its own goroutine; a failing or panicking tick is
// logged and the schedule keeps going.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one recurring job. Run is invoked once per tick; the error
// it returns is logged, never fatal to the schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// RunAtStart fires the task once immediately when the runner
	// starts, before the first tick.
	RunAtStart bool
}

// Runner owns the task goroutines. Start launches them; Stop cancels
// the shared context and waits for in-flight ticks to finish.
type Runner struct {
	tasks  []Task
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

func NewRunner(logger *slog.Logger, tasks ...Task) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tasks:  tasks,
		logger: logger.With("component", "scheduler"),
	}
}

// Start launches one goroutine per task. It is an error to start a
// runner twice or to register a task with a non-positive interval.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("scheduler already started")
	}
	for _, t := range r.tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("task %q has non-positive interval %s", t.Name, t.Interval)
		}
		if t.Run == nil {
			return fmt.Errorf("task %q has no run function", t.Name)
		}
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.started = true

	for _, t := range r.tasks {
		r.done.Add(1)
		go r.loop(ctx, t)
	}

	r.logger.InfoContext(ctx, "scheduler started", "tasks", len(r.tasks))
	return nil
}

// Stop halts all task loops and blocks until they return. In-flight
// ticks observe context cancellation through the ctx passed to Run.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.done.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.done.Done()

	logger := r.logger.With("task", t.Name, "interval", t.Interval.String())

	if t.RunAtStart {
		r.tick(ctx, t, logger)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "task loop stopped")
			return
		case <-ticker.C:
			r.tick(ctx, t, logger)
		}
	}
}

// tick executes one task run, isolating panics and errors so the
// schedule survives a bad cycle.
func (r *Runner) tick(ctx context.Context, t Task, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "task panicked",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	started := time.Now()
	if err := t.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "task run failed",
			"error", err,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return
	}
	logger.InfoContext(ctx, "task run complete",
		"duration_ms", time.Since(started).Milliseconds(),
	)
}
