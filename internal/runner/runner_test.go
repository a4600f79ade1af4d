package runner

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name     string
	schedule string
	calls    atomic.Int32
	err      error
}

func (t *countingTask) Name() string           { return t.name }
func (t *countingTask) Schedule() string       { return t.schedule }
func (t *countingTask) Timeout() time.Duration { return time.Second }
func (t *countingTask) Run(ctx context.Context) error {
	t.calls.Add(1)
	return t.err
}

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func TestRegistry(t *testing.T) {
	reg := NewTaskRegistry()
	require.NoError(t, reg.Register(&countingTask{name: "b"}))
	require.NoError(t, reg.Register(&countingTask{name: "a"}))
	assert.Error(t, reg.Register(&countingTask{name: "a"}))

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name())

	_, ok := reg.Get("a")
	assert.True(t, ok)
	_, ok = reg.Get("c")
	assert.False(t, ok)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	reg := NewTaskRegistry()
	require.NoError(t, reg.Register(&countingTask{name: "bad", schedule: "every now and then"}))

	err := NewRunner(reg, quiet()).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule task bad")
}

func TestStartRunsImmediatelyAndOnSchedule(t *testing.T) {
	task := &countingTask{name: "suite", schedule: "@every 1s", err: errors.New("1 of 6 scenarios failed")}
	reg := NewTaskRegistry()
	require.NoError(t, reg.Register(task))

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	err := NewRunner(reg, quiet(), WithImmediate()).Start(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, task.calls.Load(), int32(2))
}

func TestExecuteTaskSkipsCancelledContext(t *testing.T) {
	task := &countingTask{name: "suite", schedule: "@every 1h"}
	r := NewRunner(NewTaskRegistry(), quiet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.executeTask(ctx, task)
	assert.Equal(t, int32(0), task.calls.Load())
}
