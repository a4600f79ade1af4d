// Package runner re-runs registered tasks on cron schedules until the process
// is told to stop.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner manages and executes scheduled tasks
type Runner struct {
	cron      *cron.Cron
	registry  *TaskRegistry
	logger    *log.Logger
	immediate bool
	wg        sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithImmediate runs every task once when the runner starts, before the first
// scheduled tick.
func WithImmediate() Option {
	return func(r *Runner) { r.immediate = true }
}

// NewRunner creates a task runner. Schedules take a leading seconds field and
// a task still running at its next tick is skipped for that tick.
func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.PrintfLogger(r.logger)), cron.SkipIfStillRunning(cron.PrintfLogger(r.logger))),
	)
	return r
}

// Schedule registers every task with cron without starting it.
func (r *Runner) Schedule(ctx context.Context) error {
	for _, task := range r.registry.All() {
		task := task
		r.logger.Printf("Registering task: %s with schedule: %s", task.Name(), task.Schedule())
		if _, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		}); err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", task.Name(), err)
		}
	}
	return nil
}

// Start schedules the tasks, runs them until SIGINT, SIGTERM or ctx is done,
// then waits for in-flight runs. Signals are handled from the start, so an
// interrupt during the immediate run shuts down cleanly. A signal returns nil;
// the end of ctx returns its error.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Println("Starting task runner...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-sigChan:
			r.logger.Printf("Received signal: %v", sig)
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := r.Schedule(runCtx); err != nil {
		return err
	}
	if r.immediate {
		for _, task := range r.registry.All() {
			r.executeTask(runCtx, task)
		}
	}

	r.cron.Start()
	r.logger.Println("Task runner started")
	<-runCtx.Done()
	r.Stop()
	return ctx.Err()
}

// executeTask runs a single task with timeout and error handling
func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	if ctx.Err() != nil {
		return
	}
	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	r.logger.Printf("Executing task: %s", task.Name())

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), duration.Round(time.Millisecond), err)
	} else {
		r.logger.Printf("Task %s completed in %v", task.Name(), duration.Round(time.Millisecond))
	}
}

// Stop stops scheduling and waits for running tasks to finish.
func (r *Runner) Stop() {
	r.logger.Println("Stopping task runner...")
	done := r.cron.Stop()
	r.wg.Wait()
	<-done.Done()
	r.logger.Println("Task runner stopped")
}
