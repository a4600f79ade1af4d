// Package scenario runs ordered, role-scoped sequences of UI steps. Every step
// is an action followed by an eventual-state check; the first failing step
// aborts the scenario and the remaining steps are reported as skipped.
package scenario

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
)

// Step is one action plus the poll that proves it took effect.
type Step struct {
	Name   string
	Action func(ctx context.Context, c *Context) error
	// Verify builds the poll spec checked after Action. A nil Verify passes.
	Verify func(c *Context) (poll.Spec, error)
}

// Scenario is a named, ordered list of steps run as one role.
type Scenario struct {
	Name        string
	Description string
	Tags        []string
	Role        actor.Role
	// Requires lists fixtures that must be published before the scenario starts.
	Requires []string
	// Publishes lists fixtures the scenario is expected to publish.
	Publishes []string
	// Timeout bounds the scenario wall clock. Zero uses the orchestrator default.
	Timeout time.Duration
	Steps   []Step
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// State is the lifecycle of a scenario run.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Outcome is the result of one step.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult records one step.
type StepResult struct {
	Name      string
	Outcome   Outcome
	Elapsed   time.Duration
	Err       error
	Artifacts []string
}

// Kind returns the failure kind of a failed step.
func (r StepResult) Kind() failure.Kind {
	return failure.KindOf(r.Err)
}

// Result records one scenario run.
type Result struct {
	ID       string
	Scenario string
	Role     actor.Role
	Tags     []string
	State    State
	Steps    []StepResult
	Err      error
	Started  time.Time
	Finished time.Time
}

// Passed reports whether every step passed.
func (r Result) Passed() bool {
	return r.State == StateCompleted
}

// FailedStep returns the step that aborted the scenario, or nil.
func (r Result) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Outcome == OutcomeFail {
			return &r.Steps[i]
		}
	}
	return nil
}

// Duration is the wall-clock time of the run.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Context is the per-scenario state passed to steps. Values are private to the
// scenario; fixtures are shared through the process-wide store.
type Context struct {
	scenario string
	surface  locator.Surface
	poller   *poll.Poller
	session  *actor.Session
	actors   *actor.Manager
	fixtures *FixtureStore
	values   map[string]any
	logger   *log.Logger
}

// NewContext assembles a Context. The orchestrator builds one per run; tests
// may build their own.
func NewContext(scenario string, surface locator.Surface, poller *poll.Poller, session *actor.Session, fixtures *FixtureStore, logger *log.Logger) *Context {
	if fixtures == nil {
		fixtures = NewFixtureStore()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Context{
		scenario: scenario,
		surface:  surface,
		poller:   poller,
		session:  session,
		fixtures: fixtures,
		values:   make(map[string]any),
		logger:   logger,
	}
}

func (c *Context) Scenario() string          { return c.scenario }
func (c *Context) Surface() locator.Surface  { return c.surface }
func (c *Context) Poller() *poll.Poller      { return c.poller }
func (c *Context) Session() *actor.Session   { return c.session }
func (c *Context) Actors() *actor.Manager    { return c.actors }
func (c *Context) Logger() *log.Logger       { return c.logger }
func (c *Context) Fixtures() *FixtureStore   { return c.fixtures }
func (c *Context) Set(key string, value any) { c.values[key] = value }

// Value returns a scenario-local value.
func (c *Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns a scenario-local string value, or "".
func (c *Context) GetString(key string) string {
	v, _ := c.values[key].(string)
	return v
}

// Fixture reads a shared fixture, failing with MissingFixture when absent.
func (c *Context) Fixture(key string) (string, error) {
	v, ok := c.fixtures.Get(key)
	if !ok {
		return "", failure.New(failure.KindMissingFixture, "fixture %q has not been published", key)
	}
	return v, nil
}

// Publish shares a fixture with later scenarios.
func (c *Context) Publish(key, value string) error {
	if err := c.fixtures.Publish(key, value); err != nil {
		return err
	}
	c.logger.Printf("[FIXTURE] %s = %s", key, value)
	return nil
}
