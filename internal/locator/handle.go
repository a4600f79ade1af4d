package locator

import (
	"context"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

// Handle is a lazily bound reference to the element an ElementQuery selects.
// Operations that need a live element return a failure.KindNoMatch error
// when nothing matches.
type Handle interface {
	// Query returns the query the handle was resolved from.
	Query() ElementQuery
	// Count returns how many elements match, ignoring the ordinal.
	Count(ctx context.Context) (int, error)
	// Visible reports whether the bound element exists and is visible.
	Visible(ctx context.Context) (bool, error)
	// Text returns the bound element's text content.
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Disabled reports whether the bound element is disabled.
	Disabled(ctx context.Context) (bool, error)
	Click(ctx context.Context, opts ...ClickOption) error
	Fill(ctx context.Context, value string) error
	// Type sends value key by key with delay between keystrokes.
	Type(ctx context.Context, value string, delay time.Duration) error
	Press(ctx context.Context, key string) error
}

// Resolver turns queries into handles against the current page snapshot.
type Resolver interface {
	Resolve(q ElementQuery) Handle
}

// Surface is the application surface a scenario drives: a resolver plus
// page-level navigation.
type Surface interface {
	Resolver
	// Navigate loads path relative to the application base URL.
	Navigate(ctx context.Context, path string) error
	// Reload reloads the current page.
	Reload(ctx context.Context) error
	// URL returns the current page URL.
	URL() string
}

// ClickOptions tunes a click.
type ClickOptions struct {
	// Force skips actionability checks such as visibility and enabled state.
	Force bool
}

// ClickOption mutates ClickOptions.
type ClickOption func(*ClickOptions)

// Force clicks even when the element is not actionable.
func Force() ClickOption {
	return func(o *ClickOptions) { o.Force = true }
}

// ApplyClickOptions folds opts into a ClickOptions value.
func ApplyClickOptions(opts ...ClickOption) ClickOptions {
	var o ClickOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NoMatch builds the error returned when a handle needed a live binding but
// the query matched nothing.
func NoMatch(q ElementQuery, op string) *failure.Error {
	return failure.New(failure.KindNoMatch, "%s: no element matches %s", op, q)
}
