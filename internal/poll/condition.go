package poll

import (
	"context"
	"fmt"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
)

// ConditionKind names what a Condition checks.
type ConditionKind string

const (
	CondVisible   ConditionKind = "visible"
	CondText      ConditionKind = "text"
	CondAttribute ConditionKind = "attribute"
	CondAbsent    ConditionKind = "absent"
)

// Condition is the expected state of the element a query binds.
type Condition struct {
	Kind  ConditionKind
	Text  locator.TextFilter
	Attr  string
	Value string
}

// Visible expects the bound element to exist and be visible.
func Visible() Condition { return Condition{Kind: CondVisible} }

// HasText expects the bound element's text to satisfy f.
func HasText(f locator.TextFilter) Condition { return Condition{Kind: CondText, Text: f} }

// ContainsText expects the bound element's text to contain s, ignoring case.
func ContainsText(s string) Condition { return HasText(locator.Contains(s)) }

// AttributeEquals expects attribute name to be present with value.
func AttributeEquals(name, value string) Condition {
	return Condition{Kind: CondAttribute, Attr: name, Value: value}
}

// Absent expects no visible element to match.
func Absent() Condition { return Condition{Kind: CondAbsent} }

func (c Condition) String() string {
	switch c.Kind {
	case CondText:
		return "text " + c.Text.String()
	case CondAttribute:
		return fmt.Sprintf("%s=%q", c.Attr, c.Value)
	case "":
		return string(CondVisible)
	default:
		return string(c.Kind)
	}
}

// Evaluate checks the condition once against h. It returns whether the
// condition holds and a short description of what was observed. NoMatch
// errors are folded into the observation.
func (c Condition) Evaluate(ctx context.Context, h locator.Handle) (bool, string, error) {
	switch c.Kind {
	case CondVisible, "":
		visible, err := h.Visible(ctx)
		if err != nil {
			return false, "", err
		}
		if visible {
			return true, "visible", nil
		}
		return false, describeMissing(ctx, h), nil

	case CondText:
		text, err := h.Text(ctx)
		if failure.IsRetryable(err) {
			return false, "no match", nil
		}
		if err != nil {
			return false, "", err
		}
		return c.Text.Matches(text), fmt.Sprintf("text %q", text), nil

	case CondAttribute:
		v, present, err := h.Attribute(ctx, c.Attr)
		if failure.IsRetryable(err) {
			return false, "no match", nil
		}
		if err != nil {
			return false, "", err
		}
		if !present {
			return false, fmt.Sprintf("%s absent", c.Attr), nil
		}
		return v == c.Value, fmt.Sprintf("%s=%q", c.Attr, v), nil

	case CondAbsent:
		n, err := h.Count(ctx)
		if err != nil {
			return false, "", err
		}
		if n <= h.Query().Ordinal {
			return true, "no match", nil
		}
		visible, err := h.Visible(ctx)
		if err != nil {
			return false, "", err
		}
		if !visible {
			return true, "hidden", nil
		}
		return false, fmt.Sprintf("visible (%d matches)", n), nil
	}
	return false, "", failure.New(failure.KindConfig, "unknown condition %q", c.Kind)
}

func describeMissing(ctx context.Context, h locator.Handle) string {
	n, err := h.Count(ctx)
	if err != nil || n <= h.Query().Ordinal {
		return "no match"
	}
	return "hidden"
}
