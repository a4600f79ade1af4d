package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
)

// Surface is a playwright page seen through semantic element queries.
type Surface struct {
	page          playwright.Page
	baseURL       string
	actionTimeout time.Duration
}

var _ locator.Surface = (*Surface)(nil)

// NewSurface wraps page. Paths passed to Navigate are joined to baseURL.
func NewSurface(page playwright.Page, baseURL string, actionTimeout time.Duration) *Surface {
	if actionTimeout <= 0 {
		actionTimeout = 10 * time.Second
	}
	return &Surface{page: page, baseURL: strings.TrimRight(baseURL, "/"), actionTimeout: actionTimeout}
}

// Page exposes the underlying page.
func (s *Surface) Page() playwright.Page {
	return s.page
}

func (s *Surface) Resolve(q locator.ElementQuery) locator.Handle {
	return &handle{s: s, q: q}
}

func (s *Surface) Navigate(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url := path
	if strings.HasPrefix(path, "/") {
		url = s.baseURL + path
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   s.timeout(ctx),
	})
	if err != nil && strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
		return fmt.Errorf("redirect loop navigating to %s (check base_url and the login redirect): %w", url, err)
	}
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Surface) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   s.timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *Surface) URL() string {
	return s.page.URL()
}

// ExpectLogin runs action with a listener for the successful login response
// already attached, and returns that response's body.
func (s *Surface) ExpectLogin(ctx context.Context, action func() error) ([]byte, error) {
	resp, err := s.page.ExpectResponse(func(r playwright.Response) bool {
		return isLoginResponse(r.URL(), r.Status())
	}, action, playwright.PageExpectResponseOptions{Timeout: s.timeout(ctx)})
	if err != nil {
		return nil, fmt.Errorf("waiting for login response: %w", err)
	}
	return resp.Body()
}

func isLoginResponse(url string, status int) bool {
	return (strings.Contains(url, "/auth/login") || strings.Contains(url, "/api/login")) && status == 200
}

// timeout is the action budget in milliseconds, capped by ctx's deadline.
func (s *Surface) timeout(ctx context.Context) *float64 {
	return playwright.Float(float64(budget(ctx, s.actionTimeout).Milliseconds()))
}

func budget(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// textArg converts a filter into the string or regexp argument playwright
// expects, plus the exact flag for string arguments.
func textArg(f locator.TextFilter) (any, *bool) {
	switch {
	case f.Pattern != nil:
		return f.Pattern, nil
	case f.Exact:
		return f.Substring, playwright.Bool(true)
	case f.CaseSensitive:
		return regexp.MustCompile(regexp.QuoteMeta(f.Substring)), nil
	default:
		return f.Substring, playwright.Bool(false)
	}
}

// hasText converts a filter into a Filter HasText argument, which has no
// exact flag of its own.
func hasText(f locator.TextFilter) any {
	switch {
	case f.Pattern != nil:
		return f.Pattern
	case f.Exact:
		return regexp.MustCompile(`^\s*` + regexp.QuoteMeta(f.Substring) + `\s*$`)
	case f.CaseSensitive:
		return regexp.MustCompile(regexp.QuoteMeta(f.Substring))
	default:
		return f.Substring
	}
}

// scope is where a query is evaluated: the whole page or a container.
type scope struct {
	page   playwright.Page
	within playwright.Locator
}

func (sc scope) byRole(role locator.Role, name locator.TextFilter) playwright.Locator {
	var n any
	var exact *bool
	if !name.IsZero() {
		n, exact = textArg(name)
	}
	if sc.within != nil {
		return sc.within.GetByRole(playwright.AriaRole(role), playwright.LocatorGetByRoleOptions{Name: n, Exact: exact})
	}
	return sc.page.GetByRole(playwright.AriaRole(role), playwright.PageGetByRoleOptions{Name: n, Exact: exact})
}

func (sc scope) byPlaceholder(text string) playwright.Locator {
	if sc.within != nil {
		return sc.within.GetByPlaceholder(text)
	}
	return sc.page.GetByPlaceholder(text)
}

func (sc scope) byText(f locator.TextFilter) playwright.Locator {
	t, exact := textArg(f)
	if sc.within != nil {
		return sc.within.GetByText(t, playwright.LocatorGetByTextOptions{Exact: exact})
	}
	return sc.page.GetByText(t, playwright.PageGetByTextOptions{Exact: exact})
}

// locate builds the playwright locator of q without its ordinal.
func (s *Surface) locate(q locator.ElementQuery) playwright.Locator {
	l := s.locateOne(q)
	for _, alt := range q.Alternates {
		l = l.Or(s.locateOne(alt))
	}
	return l
}

func (s *Surface) locateOne(q locator.ElementQuery) playwright.Locator {
	sc := scope{page: s.page}
	if q.Container != nil {
		sc.within = s.locate(*q.Container).Nth(q.Container.Ordinal)
	}
	var l playwright.Locator
	switch {
	case q.Role != "":
		l = sc.byRole(q.Role, q.Name)
		if q.Placeholder != "" {
			l = l.And(sc.byPlaceholder(q.Placeholder))
		}
	case q.Placeholder != "":
		l = sc.byPlaceholder(q.Placeholder)
	default:
		return sc.byText(q.Text)
	}
	if !q.Text.IsZero() {
		l = l.Filter(playwright.LocatorFilterOptions{HasText: hasText(q.Text)})
	}
	return l
}

type handle struct {
	s *Surface
	q locator.ElementQuery
}

func (h *handle) Query() locator.ElementQuery { return h.q }

func (h *handle) all() playwright.Locator { return h.s.locate(h.q) }

func (h *handle) one() playwright.Locator { return h.all().Nth(h.q.Ordinal) }

// bind fails with NoMatch when the ordinal is out of range.
func (h *handle) bind(ctx context.Context, op string) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := h.all().Count()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, h.q, err)
	}
	if n <= h.q.Ordinal {
		return nil, locator.NoMatch(h.q, op)
	}
	return h.one(), nil
}

func (h *handle) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return h.all().Count()
}

func (h *handle) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return h.one().IsVisible()
}

func (h *handle) Text(ctx context.Context) (string, error) {
	l, err := h.bind(ctx, "text")
	if err != nil {
		return "", err
	}
	text, err := l.TextContent(playwright.LocatorTextContentOptions{Timeout: h.s.timeout(ctx)})
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (h *handle) Attribute(ctx context.Context, name string) (string, bool, error) {
	l, err := h.bind(ctx, "attribute")
	if err != nil {
		return "", false, err
	}
	present, err := l.Evaluate(`(el, name) => el.hasAttribute(name)`, name)
	if err != nil {
		return "", false, err
	}
	if ok, _ := present.(bool); !ok {
		return "", false, nil
	}
	v, err := l.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: h.s.timeout(ctx)})
	return v, true, err
}

func (h *handle) Disabled(ctx context.Context) (bool, error) {
	l, err := h.bind(ctx, "disabled")
	if err != nil {
		return false, err
	}
	return l.IsDisabled(playwright.LocatorIsDisabledOptions{Timeout: h.s.timeout(ctx)})
}

func (h *handle) Click(ctx context.Context, opts ...locator.ClickOption) error {
	l, err := h.bind(ctx, "click")
	if err != nil {
		return err
	}
	o := locator.ApplyClickOptions(opts...)
	if err := l.Click(playwright.LocatorClickOptions{Force: playwright.Bool(o.Force), Timeout: h.s.timeout(ctx)}); err != nil {
		return fmt.Errorf("click %s: %w", h.q, err)
	}
	return nil
}

func (h *handle) Fill(ctx context.Context, value string) error {
	l, err := h.bind(ctx, "fill")
	if err != nil {
		return err
	}
	if err := l.Fill(value, playwright.LocatorFillOptions{Timeout: h.s.timeout(ctx)}); err != nil {
		return fmt.Errorf("fill %s: %w", h.q, err)
	}
	return nil
}

func (h *handle) Type(ctx context.Context, value string, delay time.Duration) error {
	l, err := h.bind(ctx, "type")
	if err != nil {
		return err
	}
	err = l.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(float64(delay.Milliseconds())),
		Timeout: h.s.timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("type into %s: %w", h.q, err)
	}
	return nil
}

func (h *handle) Press(ctx context.Context, key string) error {
	l, err := h.bind(ctx, "press")
	if err != nil {
		return err
	}
	if err := l.Press(key, playwright.LocatorPressOptions{Timeout: h.s.timeout(ctx)}); err != nil {
		return fmt.Errorf("press %s on %s: %w", key, h.q, err)
	}
	return nil
}
