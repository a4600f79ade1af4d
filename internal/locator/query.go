// Package locator maps semantic descriptions of UI elements (role, accessible
// name, placeholder, container, text) onto lazily bound handles.
//
// Resolution never touches the page. Existence is only established when an
// operation on the Handle needs a live element; when more than one element
// qualifies the first match wins unless the query names an ordinal.
package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is an ARIA role.
type Role string

const (
	RoleButton   Role = "button"
	RoleCombobox Role = "combobox"
	RoleDialog   Role = "dialog"
	RoleHeading  Role = "heading"
	RoleLink     Role = "link"
	RoleListbox  Role = "listbox"
	RoleOption   Role = "option"
	RoleRow      Role = "row"
	RoleTab      Role = "tab"
	RoleTextbox  Role = "textbox"
	RoleGeneric  Role = "generic"
)

// TextFilter matches element text. The zero value matches everything.
type TextFilter struct {
	Substring     string
	Pattern       *regexp.Regexp
	CaseSensitive bool
	Exact         bool
}

// Contains matches a case-insensitive substring.
func Contains(s string) TextFilter {
	return TextFilter{Substring: s}
}

// ContainsCase matches a case-sensitive substring.
func ContainsCase(s string) TextFilter {
	return TextFilter{Substring: s, CaseSensitive: true}
}

// Exact matches the whole trimmed text, case-sensitively.
func Exact(s string) TextFilter {
	return TextFilter{Substring: s, CaseSensitive: true, Exact: true}
}

// Matching matches a regular expression against the text.
func Matching(re *regexp.Regexp) TextFilter {
	return TextFilter{Pattern: re}
}

// MatchingString compiles expr and matches it against the text. It panics on
// an invalid expression, so it is meant for package-level query definitions.
func MatchingString(expr string) TextFilter {
	return TextFilter{Pattern: regexp.MustCompile(expr)}
}

// IsZero reports whether the filter is unset.
func (f TextFilter) IsZero() bool {
	return f.Substring == "" && f.Pattern == nil
}

// Matches reports whether text satisfies the filter.
func (f TextFilter) Matches(text string) bool {
	if f.Pattern != nil {
		return f.Pattern.MatchString(text)
	}
	if f.Substring == "" {
		return true
	}
	needle, hay := f.Substring, text
	if f.Exact {
		hay = normalizeSpace(hay)
		needle = normalizeSpace(needle)
		if !f.CaseSensitive {
			return strings.EqualFold(hay, needle)
		}
		return hay == needle
	}
	if !f.CaseSensitive {
		needle = strings.ToLower(needle)
		hay = strings.ToLower(hay)
	}
	return strings.Contains(hay, needle)
}

func (f TextFilter) String() string {
	switch {
	case f.Pattern != nil:
		return "/" + f.Pattern.String() + "/"
	case f.Exact:
		return fmt.Sprintf("=%q", f.Substring)
	case f.CaseSensitive:
		return fmt.Sprintf("~%q", f.Substring)
	default:
		return fmt.Sprintf("~i%q", f.Substring)
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ElementQuery describes a target element. It is an immutable value: every
// builder method returns a modified copy.
type ElementQuery struct {
	Role        Role
	Name        TextFilter
	Placeholder string
	Text        TextFilter
	Container   *ElementQuery
	Alternates  []ElementQuery
	Ordinal     int
}

// ByRole starts a query for elements with the given role.
func ByRole(role Role) ElementQuery {
	return ElementQuery{Role: role}
}

// ByText starts a role-less query that matches elements by their text.
func ByText(f TextFilter) ElementQuery {
	return ElementQuery{Text: f}
}

// ByPlaceholder starts a query for inputs with the given placeholder
// (case-insensitive substring).
func ByPlaceholder(placeholder string) ElementQuery {
	return ElementQuery{Placeholder: placeholder}
}

// Named restricts matches to an exact accessible name.
func (q ElementQuery) Named(name string) ElementQuery {
	q.Name = Exact(name)
	return q
}

// NamedLike restricts matches to accessible names satisfying f.
func (q ElementQuery) NamedLike(f TextFilter) ElementQuery {
	q.Name = f
	return q
}

// WithText restricts matches to elements whose text satisfies f.
func (q ElementQuery) WithText(f TextFilter) ElementQuery {
	q.Text = f
	return q
}

// Within scopes the query, and any alternates without a container of their
// own, to descendants of the element bound by container.
func (q ElementQuery) Within(container ElementQuery) ElementQuery {
	c := container
	q.Container = &c
	if len(q.Alternates) > 0 {
		alts := make([]ElementQuery, len(q.Alternates))
		for i, alt := range q.Alternates {
			if alt.Container == nil {
				alt.Container = &c
			}
			alts[i] = alt
		}
		q.Alternates = alts
	}
	return q
}

// Or adds an alternative query; the union is matched in document order.
func (q ElementQuery) Or(alt ElementQuery) ElementQuery {
	alts := make([]ElementQuery, 0, len(q.Alternates)+1)
	alts = append(alts, q.Alternates...)
	q.Alternates = append(alts, alt)
	return q
}

// Nth binds the i-th match (zero based) instead of the first.
func (q ElementQuery) Nth(i int) ElementQuery {
	q.Ordinal = i
	return q
}

// String renders the query for logs and failure reports.
func (q ElementQuery) String() string {
	var b strings.Builder
	switch {
	case q.Role != "":
		b.WriteString(string(q.Role))
	case q.Placeholder != "":
		fmt.Fprintf(&b, "placeholder=%q", q.Placeholder)
	default:
		b.WriteString("text")
	}
	if !q.Name.IsZero() {
		fmt.Fprintf(&b, "[name%s]", q.Name)
	}
	if !q.Text.IsZero() {
		fmt.Fprintf(&b, "[text%s]", q.Text)
	}
	if q.Ordinal > 0 {
		fmt.Fprintf(&b, "[%d]", q.Ordinal)
	}
	for _, alt := range q.Alternates {
		fmt.Fprintf(&b, " | %s", alt)
	}
	if q.Container != nil {
		fmt.Fprintf(&b, " within %s", q.Container)
	}
	return b.String()
}
