// Package poll waits for eventual UI state. A Spec names a query (or a free
// predicate), the expected condition and a time budget; the Poller re-evaluates
// it until it holds, the budget runs out or the context is canceled.
//
// A Spec may carry one recovery action. When the first budget is exhausted
// the recovery runs exactly once and the loop restarts with a fresh budget of
// the same length. A second exhaustion is final.
package poll

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
)

const (
	DefaultTimeout  = 20 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// Probe is a free predicate polled instead of a query, e.g. a URL check.
type Probe func(ctx context.Context) (ok bool, observed string, err error)

// Recovery runs once after the first budget is exhausted.
type Recovery func(ctx context.Context) error

// Spec describes one eventual-state check.
type Spec struct {
	Name      string
	Query     locator.ElementQuery
	Probe     Probe
	Expected  Condition
	Timeout   time.Duration
	Interval  time.Duration
	OnTimeout Recovery
}

// Validate enforces Timeout > Interval > 0.
func (s Spec) Validate() error {
	if s.Interval <= 0 {
		return failure.New(failure.KindConfig, "poll %q: interval must be positive, got %s", s.label(), s.Interval)
	}
	if s.Timeout <= s.Interval {
		return failure.New(failure.KindConfig, "poll %q: timeout %s must exceed interval %s", s.label(), s.Timeout, s.Interval)
	}
	return nil
}

func (s Spec) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Probe != nil {
		return "probe"
	}
	return s.Query.String() + " " + s.Expected.String()
}

// Observer receives one callback per finished poll.
type Observer interface {
	ObservePoll(name string, attempts int, recovered bool, elapsed time.Duration, err error)
}

// Poller evaluates Specs against a resolver.
type Poller struct {
	resolver locator.Resolver
	timeout  time.Duration
	interval time.Duration
	logger   *log.Logger
	observer Observer
}

// Option configures a Poller.
type Option func(*Poller)

// WithDefaults sets the budget used when a Spec leaves Timeout or Interval
// zero. A default interval never exceeds a quarter of the Spec's timeout.
func WithDefaults(timeout, interval time.Duration) Option {
	return func(p *Poller) {
		if timeout > 0 {
			p.timeout = timeout
		}
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// New creates a Poller bound to resolver.
func New(resolver locator.Resolver, opts ...Option) *Poller {
	p := &Poller{
		resolver: resolver,
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolver returns the resolver the poller evaluates queries against.
func (p *Poller) Resolver() locator.Resolver {
	return p.resolver
}

// Poll blocks until spec holds and returns the handle it was evaluated
// against (nil for probes). Errors are *failure.Error of kind Timeout or
// Config, a fatal error raised by the evaluation, or the context error.
func (p *Poller) Poll(ctx context.Context, spec Spec) (locator.Handle, error) {
	if spec.Timeout == 0 {
		spec.Timeout = p.timeout
	}
	if spec.Interval == 0 {
		// An inherited interval is shrunk to fit short budgets.
		spec.Interval = min(p.interval, spec.Timeout/4)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var h locator.Handle
	if spec.Probe == nil {
		h = p.resolver.Resolve(spec.Query)
	}

	start := time.Now()
	attempts, observed, err := p.run(ctx, spec, h)
	recovered := false
	if isExhausted(err) && spec.OnTimeout != nil {
		p.logger.Printf("[RETRY] %s not satisfied after %s (last observed: %s), recovering", spec.label(), spec.Timeout, observed)
		recovered = true
		if rerr := spec.OnTimeout(ctx); rerr != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = failure.Wrap(rerr, failure.KindTimeout, spec.label()+": recovery failed").WithObserved(observed)
			}
		} else {
			var n int
			n, observed, err = p.run(ctx, spec, h)
			attempts += n
		}
	}
	if isExhausted(err) {
		err = failure.New(failure.KindTimeout, "%s not satisfied within %s", spec.label(), spec.Timeout).WithObserved(observed)
	}
	if p.observer != nil {
		p.observer.ObservePoll(spec.label(), attempts, recovered, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

var errExhausted = errors.New("budget exhausted")

func isExhausted(err error) bool {
	return errors.Is(err, errExhausted)
}

// run is one budgeted loop. It returns errExhausted when the budget runs out.
func (p *Poller) run(ctx context.Context, spec Spec, h locator.Handle) (int, string, error) {
	start := time.Now()
	attempts := 0
	observed := ""
	for {
		attempts++
		ok, obs, err := p.evaluate(ctx, spec, h)
		if err != nil {
			if ctx.Err() != nil {
				return attempts, observed, ctx.Err()
			}
			if failure.IsFatal(err) {
				return attempts, observed, err
			}
			obs = "error: " + err.Error()
		}
		observed = obs

		if ok && spec.Expected.Kind == CondAbsent {
			// Confirm after one more interval so a node being replaced is not
			// mistaken for a removed one.
			if err := sleep(ctx, spec.Interval); err != nil {
				return attempts, observed, err
			}
			attempts++
			ok, obs, err = p.evaluate(ctx, spec, h)
			if err == nil {
				observed = obs
			}
			ok = ok && err == nil
		}
		if ok {
			return attempts, observed, nil
		}

		remaining := spec.Timeout - time.Since(start)
		if remaining <= 0 {
			return attempts, observed, errExhausted
		}
		if err := sleep(ctx, min(spec.Interval, remaining)); err != nil {
			return attempts, observed, err
		}
	}
}

func (p *Poller) evaluate(ctx context.Context, spec Spec, h locator.Handle) (bool, string, error) {
	if spec.Probe != nil {
		return spec.Probe(ctx)
	}
	return spec.Expected.Evaluate(ctx, h)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
