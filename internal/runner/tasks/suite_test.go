package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coherent-in/shotbuzz-e2e/internal/report"
)

func fixedReport(passed, failed int) SuiteFunc {
	return func(context.Context) (report.Report, error) {
		return report.Report{RunID: "r", Total: passed + failed, Passed: passed, Failed: failed}, nil
	}
}

func TestNewSuiteTaskValidation(t *testing.T) {
	_, err := NewSuiteTask("smoke", "", time.Minute, fixedReport(1, 0))
	assert.Error(t, err)
	_, err = NewSuiteTask("smoke", "@every 1m", time.Minute, nil)
	assert.Error(t, err)

	task, err := NewSuiteTask("smoke", "@every 1m", 0, fixedReport(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, task.Timeout())
	assert.Equal(t, "@every 1m", task.Schedule())
}

func TestSuiteTaskRun(t *testing.T) {
	var seen []report.Report
	task, err := NewSuiteTask("smoke", "@every 1m", time.Minute, fixedReport(6, 0),
		OnReport(func(r report.Report) { seen = append(seen, r) }))
	require.NoError(t, err)

	require.NoError(t, task.Run(context.Background()))

	task.Swap(fixedReport(4, 2))
	err = task.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 6 scenarios failed")

	task.Swap(func(context.Context) (report.Report, error) { return report.Report{}, errors.New("no browser") })
	assert.ErrorContains(t, task.Run(context.Background()), "no browser")

	runs, failures, last := task.Stats()
	assert.Equal(t, 3, runs)
	assert.Equal(t, 2, failures)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Failed)
	assert.Len(t, seen, 2)
}

func TestSwapIgnoresNil(t *testing.T) {
	task, err := NewSuiteTask("smoke", "@every 1m", time.Minute, fixedReport(1, 0))
	require.NoError(t, err)
	task.Swap(nil)
	assert.NoError(t, task.Run(context.Background()))
}
