//go:build unix

package runner

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interruptingTask sends SIGINT to the test process and waits for the runner
// to cancel it.
type interruptingTask struct {
	canceled atomic.Bool
}

func (t *interruptingTask) Name() string           { return "suite" }
func (t *interruptingTask) Schedule() string       { return "@every 1h" }
func (t *interruptingTask) Timeout() time.Duration { return 5 * time.Second }
func (t *interruptingTask) Run(ctx context.Context) error {
	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		t.canceled.Store(errors.Is(ctx.Err(), context.Canceled))
	case <-time.After(2 * time.Second):
	}
	return ctx.Err()
}

func TestInterruptDuringImmediateRun(t *testing.T) {
	task := &interruptingTask{}
	reg := NewTaskRegistry()
	require.NoError(t, reg.Register(task))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := NewRunner(reg, quiet(), WithImmediate()).Start(ctx)

	assert.NoError(t, err)
	assert.True(t, task.canceled.Load(), "the immediate run sees the interrupt")
}
