// Package tasks holds the scheduled jobs the runner executes.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/report"
	"github.com/coherent-in/shotbuzz-e2e/internal/runner"
)

// SuiteFunc runs the selected scenarios once and reports the outcome.
type SuiteFunc func(ctx context.Context) (report.Report, error)

// SuiteTask re-runs the e2e suite on a schedule. The run function can be
// swapped while the task is scheduled, e.g. after a configuration reload.
type SuiteTask struct {
	name     string
	schedule string
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	run      SuiteFunc
	runs     int
	failures int
	last     *report.Report
	onReport func(report.Report)
}

var _ runner.Task = (*SuiteTask)(nil)

// SuiteOption configures a SuiteTask.
type SuiteOption func(*SuiteTask)

func WithSuiteLogger(l *log.Logger) SuiteOption {
	return func(t *SuiteTask) {
		if l != nil {
			t.logger = l
		}
	}
}

// OnReport is called with every finished report.
func OnReport(fn func(report.Report)) SuiteOption {
	return func(t *SuiteTask) { t.onReport = fn }
}

// NewSuiteTask creates a scheduled suite run.
func NewSuiteTask(name, schedule string, timeout time.Duration, run SuiteFunc, opts ...SuiteOption) (*SuiteTask, error) {
	if run == nil {
		return nil, errors.New("suite task needs a run function")
	}
	if schedule == "" {
		return nil, errors.New("suite task needs a schedule")
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	t := &SuiteTask{
		name:     name,
		schedule: schedule,
		timeout:  timeout,
		run:      run,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *SuiteTask) Name() string           { return t.name }
func (t *SuiteTask) Schedule() string       { return t.schedule }
func (t *SuiteTask) Timeout() time.Duration { return t.timeout }

// Swap replaces the run function used from the next run on.
func (t *SuiteTask) Swap(run SuiteFunc) {
	if run == nil {
		return
	}
	t.mu.Lock()
	t.run = run
	t.mu.Unlock()
	t.logger.Printf("suite %s reconfigured", t.name)
}

// Run executes the suite once. It fails when the suite could not run or any
// scenario failed.
func (t *SuiteTask) Run(ctx context.Context) error {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	rep, err := run(ctx)

	t.mu.Lock()
	t.runs++
	if err == nil {
		t.last = &rep
		if !rep.OK() {
			t.failures++
		}
	} else {
		t.failures++
	}
	onReport := t.onReport
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("suite %s: %w", t.name, err)
	}
	if onReport != nil {
		onReport(rep)
	}
	t.logger.Printf("suite %s run %s: %d/%d passed", t.name, rep.RunID, rep.Passed, rep.Total)
	if !rep.OK() {
		return fmt.Errorf("suite %s: %d of %d scenarios failed", t.name, rep.Failed, rep.Total)
	}
	return nil
}

// Stats returns the number of runs, failed runs and the last report.
func (t *SuiteTask) Stats() (runs, failures int, last *report.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs, t.failures, t.last
}
