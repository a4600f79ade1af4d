package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a step or scenario failed.
type Kind string

const (
	// KindNoMatch means a locator found nothing when a live binding was required.
	KindNoMatch Kind = "NoMatch"
	// KindTimeout means a condition never held within budget, including the one recovery attempt.
	KindTimeout Kind = "Timeout"
	// KindMissingFixture means a cross-scenario fixture was never published.
	KindMissingFixture Kind = "MissingFixture"
	// KindSetupFailure means an external collaborator returned a non-success result.
	KindSetupFailure Kind = "SetupFailure"
	// KindScenarioTimeout means the scenario wall-clock budget was exceeded.
	KindScenarioTimeout Kind = "ScenarioTimeout"
	// KindPermission means the acting role lacks the capability for an operation.
	KindPermission Kind = "Permission"
	// KindConfig means the run configuration is invalid.
	KindConfig Kind = "Config"
	// KindAction means a UI action (click, fill, navigation) itself errored.
	KindAction Kind = "Action"
)

// Sentinels usable with errors.Is.
var (
	ErrNoMatch         = &Error{Kind: KindNoMatch}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrMissingFixture  = &Error{Kind: KindMissingFixture}
	ErrSetupFailure    = &Error{Kind: KindSetupFailure}
	ErrScenarioTimeout = &Error{Kind: KindScenarioTimeout}
	ErrPermission      = &Error{Kind: KindPermission}
	ErrConfig          = &Error{Kind: KindConfig}
)

// Error is the structured failure reported for a step.
type Error struct {
	Kind         Kind
	Message      string
	Scenario     string
	Step         string
	LastObserved string
	Err          error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind. A nil err yields nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Scenario != "" || e.Step != "" {
		fmt.Fprintf(&b, " [%s/%s]", e.Scenario, e.Step)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.LastObserved != "" {
		fmt.Fprintf(&b, " (last observed: %s)", e.LastObserved)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithStep records where the failure happened.
func (e *Error) WithStep(scenario, step string) *Error {
	e.Scenario = scenario
	e.Step = step
	return e
}

// WithObserved records the last observed UI or API state.
func (e *Error) WithObserved(observed string) *Error {
	e.LastObserved = observed
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether the poller may absorb err and try again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNoMatch
}

// IsFatal reports whether err invalidates the scenario preconditions.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindSetupFailure, KindMissingFixture, KindConfig, KindPermission:
		return true
	}
	return false
}
