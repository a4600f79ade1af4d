package runner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task represents a job that can be scheduled
type Task interface {
	// Name returns the unique name of the task
	Name() string

	// Schedule returns the cron schedule expression for this task
	Schedule() string

	// Run executes the task
	Run(ctx context.Context) error

	// Timeout returns the maximum time this task should run
	Timeout() time.Duration
}

// TaskRegistry holds registered tasks in registration order
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks []Task
	index map[string]int
}

// NewTaskRegistry creates a new task registry
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{index: make(map[string]int)}
}

// Register adds a task. Names must be unique.
func (r *TaskRegistry) Register(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[task.Name()]; dup {
		return fmt.Errorf("task %q already registered", task.Name())
	}
	r.index[task.Name()] = len(r.tasks)
	r.tasks = append(r.tasks, task)
	return nil
}

// Get returns a task by name
func (r *TaskRegistry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tasks[i], true
}

// All returns the registered tasks in order
func (r *TaskRegistry) All() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Task(nil), r.tasks...)
}
