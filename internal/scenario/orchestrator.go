package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
)

// DefaultTimeout bounds a scenario that sets no timeout of its own.
const DefaultTimeout = 3 * time.Minute

// Workspace is the isolated application surface a single scenario runs in,
// typically a fresh browser context and page.
type Workspace struct {
	Surface locator.Surface
	Auth    actor.Authenticator
	// Capture stores a screenshot and returns its path. Optional.
	Capture func(ctx context.Context, name string) (string, error)
	// Close releases the workspace. Optional.
	Close func(ctx context.Context) error
}

// WorkspaceFactory opens a workspace for the named scenario.
type WorkspaceFactory func(ctx context.Context, scenario string) (*Workspace, error)

// StepObserver receives one callback per recorded step.
type StepObserver interface {
	ObserveStep(scenario, step string, outcome Outcome, kind failure.Kind, elapsed time.Duration)
}

// Orchestrator runs scenarios one step at a time.
type Orchestrator struct {
	factory  WorkspaceFactory
	fixtures *FixtureStore
	creds    map[actor.Role]actor.Credentials
	pollOpts []poll.Option
	timeout  time.Duration
	logger   *log.Logger
	observer StepObserver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFixtures shares a fixture store between orchestrators.
func WithFixtures(s *FixtureStore) Option {
	return func(o *Orchestrator) { o.fixtures = s }
}

func WithCredentials(creds map[actor.Role]actor.Credentials) Option {
	return func(o *Orchestrator) { o.creds = creds }
}

func WithPollOptions(opts ...poll.Option) Option {
	return func(o *Orchestrator) { o.pollOpts = append(o.pollOpts, opts...) }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithStepObserver(obs StepObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// NewOrchestrator creates an orchestrator that opens one workspace per scenario.
func NewOrchestrator(factory WorkspaceFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factory: factory,
		timeout: DefaultTimeout,
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fixtures == nil {
		o.fixtures = NewFixtureStore()
	}
	return o
}

// Fixtures returns the store scenarios publish into.
func (o *Orchestrator) Fixtures() *FixtureStore {
	return o.fixtures
}

// Run executes sc and always returns a complete Result: one StepResult per
// declared step.
func (o *Orchestrator) Run(ctx context.Context, sc Scenario) (res Result) {
	res = Result{
		ID:       uuid.NewString(),
		Scenario: sc.Name,
		Role:     sc.Role,
		Tags:     sc.Tags,
		State:    StateNotStarted,
		Started:  time.Now(),
	}
	defer func() { res.Finished = time.Now() }()

	o.logger.Printf("=== %s (%s) ===", sc.Name, sc.Role)

	// Preconditions are checked before any UI work.
	if err := o.fixtures.Require(sc.Requires...); err != nil {
		return o.abort(res, sc, 0, asFailure(err, failure.KindMissingFixture).WithStep(sc.Name, "preconditions"))
	}

	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res.State = StateRunning
	ws, err := o.factory(sctx, sc.Name)
	if err != nil {
		return o.abortSetup(res, sc, o.classify(ctx, sctx, err, failure.KindSetupFailure).WithStep(sc.Name, "workspace"))
	}
	defer func() {
		if ws.Close == nil {
			return
		}
		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()
		if err := ws.Close(cctx); err != nil {
			o.logger.Printf("[WARN] closing workspace for %s: %v", sc.Name, err)
		}
	}()

	actors := actor.NewManager(ws.Auth, o.creds, o.logger)
	var session *actor.Session
	if sc.Role != "" {
		session, err = actors.Open(sctx, sc.Role)
		if err != nil {
			return o.abortSetup(res, sc, o.classify(ctx, sctx, err, failure.KindSetupFailure).WithStep(sc.Name, "login"))
		}
		defer func() {
			cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer ccancel()
			if err := actors.Close(cctx); err != nil {
				o.logger.Printf("[WARN] logout for %s: %v", sc.Name, err)
			}
		}()
	}

	c := NewContext(sc.Name, ws.Surface, poll.New(ws.Surface, o.pollOpts...), session, o.fixtures, o.logger)
	c.actors = actors

	for i, step := range sc.Steps {
		start := time.Now()
		err := o.runStep(sctx, step, c)
		elapsed := time.Since(start)
		if err != nil {
			fe := o.classify(ctx, sctx, err, failure.KindAction).WithStep(sc.Name, step.Name)
			sr := StepResult{Name: step.Name, Outcome: OutcomeFail, Elapsed: elapsed, Err: fe}
			if path := o.capture(ws, sc.Name, step.Name); path != "" {
				sr.Artifacts = append(sr.Artifacts, path)
			}
			o.logger.Printf("[FAIL] %s: %v", step.Name, fe)
			o.observe(sc.Name, sr)
			res.Steps = append(res.Steps, sr)
			return o.abort(res, sc, i+1, fe)
		}
		sr := StepResult{Name: step.Name, Outcome: OutcomePass, Elapsed: elapsed}
		o.logger.Printf("[PASS] %s (%s)", step.Name, elapsed.Round(time.Millisecond))
		o.observe(sc.Name, sr)
		res.Steps = append(res.Steps, sr)
	}

	res.State = StateCompleted
	return res
}

// Skip records sc as aborted without opening a workspace because upstream, an
// earlier scenario of its chain, did not complete.
func (o *Orchestrator) Skip(sc Scenario, upstream string) Result {
	now := time.Now()
	res := Result{
		ID:       uuid.NewString(),
		Scenario: sc.Name,
		Role:     sc.Role,
		Tags:     sc.Tags,
		State:    StateNotStarted,
		Started:  now,
		Finished: now,
	}
	o.logger.Printf("=== %s (%s) ===", sc.Name, sc.Role)
	err := failure.New(failure.KindMissingFixture, "%s aborted earlier in the chain", upstream).WithStep(sc.Name, "preconditions")
	return o.abort(res, sc, 0, err)
}

// runStep runs the action then the verification poll. The step is abandoned
// when the scenario budget runs out.
func (o *Orchestrator) runStep(sctx context.Context, step Step, c *Context) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step panicked: %v", r)
			}
		}()
		done <- execStep(sctx, step, c)
	}()
	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		return sctx.Err()
	}
}

func execStep(ctx context.Context, step Step, c *Context) error {
	if step.Action != nil {
		if err := step.Action(ctx, c); err != nil {
			return err
		}
	}
	if step.Verify == nil {
		return nil
	}
	spec, err := step.Verify(c)
	if err != nil {
		return err
	}
	if spec.Name == "" {
		spec.Name = step.Name
	}
	_, err = c.Poller().Poll(ctx, spec)
	return err
}

// classify maps err onto a failure kind. A context error caused by the
// scenario budget becomes ScenarioTimeout.
func (o *Orchestrator) classify(parent, sctx context.Context, err error, fallback failure.Kind) *failure.Error {
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		var fe *failure.Error
		if !errors.As(err, &fe) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failure.Wrap(err, failure.KindScenarioTimeout, "scenario budget exceeded")
		}
	}
	return asFailure(err, fallback)
}

func asFailure(err error, fallback failure.Kind) *failure.Error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	return failure.Wrap(err, fallback, "")
}

// abortSetup aborts before the first step ran. A scenario timeout is charged
// to the first step so the report shows where the budget ran out.
func (o *Orchestrator) abortSetup(res Result, sc Scenario, err *failure.Error) Result {
	if err.Kind != failure.KindScenarioTimeout || len(sc.Steps) == 0 {
		return o.abort(res, sc, 0, err)
	}
	sr := StepResult{Name: sc.Steps[0].Name, Outcome: OutcomeFail, Elapsed: time.Since(res.Started), Err: err}
	o.logger.Printf("[FAIL] %s: %v", sr.Name, err)
	o.observe(sc.Name, sr)
	res.Steps = append(res.Steps, sr)
	return o.abort(res, sc, 1, err)
}

// abort marks the scenario aborted and the steps from index from on skipped.
func (o *Orchestrator) abort(res Result, sc Scenario, from int, err *failure.Error) Result {
	res.State = StateAborted
	res.Err = err
	for _, step := range sc.Steps[from:] {
		sr := StepResult{Name: step.Name, Outcome: OutcomeSkipped}
		o.observe(sc.Name, sr)
		res.Steps = append(res.Steps, sr)
	}
	o.logger.Printf("[ABORT] %s: %v", sc.Name, err)
	return res
}

func (o *Orchestrator) capture(ws *Workspace, scenario, step string) string {
	if ws.Capture == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	path, err := ws.Capture(ctx, slug(scenario+"-"+step))
	if err != nil {
		o.logger.Printf("[WARN] screenshot for %s/%s: %v", scenario, step, err)
		return ""
	}
	return path
}

func (o *Orchestrator) observe(scenario string, sr StepResult) {
	if o.observer != nil {
		o.observer.ObserveStep(scenario, sr.Name, sr.Outcome, sr.Kind(), sr.Elapsed)
	}
}

func slug(s string) string {
	return strings.Trim(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, s), "-")
}
