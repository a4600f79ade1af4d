// Package pages is the ShotBuzz page model. A single Portal type serves every
// role; what a role may do is decided by its actor.Capabilities rather than
// by a separate page type per role.
package pages

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotdata"
)

// Timeouts of the portal's eventual-state checks.
type Timeouts struct {
	Element   time.Duration
	URL       time.Duration
	Row       time.Duration
	Status    time.Duration
	Locked    time.Duration
	KeyDelay  time.Duration
	Dashboard time.Duration
}

// DefaultTimeouts mirrors how long the portal takes in the dev environment.
var DefaultTimeouts = Timeouts{
	Element:   10 * time.Second,
	URL:       10 * time.Second,
	Row:       20 * time.Second,
	Status:    15 * time.Second,
	Locked:    2 * time.Second,
	KeyDelay:  50 * time.Millisecond,
	Dashboard: 5 * time.Second,
}

var (
	shotURL      = regexp.MustCompile(`(?i)shot`)
	employeesURL = regexp.MustCompile(`(?i)employees`)
)

// Portal drives the ShotBuzz web UI as one role.
type Portal struct {
	surface  locator.Surface
	poller   *poll.Poller
	role     actor.Role
	caps     actor.Capabilities
	timeouts Timeouts
	logger   *log.Logger
}

// New creates a portal for role. A nil logger discards output.
func New(surface locator.Surface, poller *poll.Poller, role actor.Role, logger *log.Logger) *Portal {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Portal{
		surface:  surface,
		poller:   poller,
		role:     role,
		caps:     actor.CapabilitiesOf(role),
		timeouts: DefaultTimeouts,
		logger:   logger,
	}
}

// WithTimeouts replaces the check budgets. Zero fields keep their defaults.
func (p *Portal) WithTimeouts(t Timeouts) *Portal {
	merge := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	merge(&p.timeouts.Element, t.Element)
	merge(&p.timeouts.URL, t.URL)
	merge(&p.timeouts.Row, t.Row)
	merge(&p.timeouts.Status, t.Status)
	merge(&p.timeouts.Locked, t.Locked)
	merge(&p.timeouts.KeyDelay, t.KeyDelay)
	merge(&p.timeouts.Dashboard, t.Dashboard)
	return p
}

func (p *Portal) Role() actor.Role { return p.role }

// Open loads the shots entry page, which redirects to login when needed.
func (p *Portal) Open(ctx context.Context) error {
	return p.surface.Navigate(ctx, "/shots")
}

// SubmitLogin fills and submits the login form.
func (p *Portal) SubmitLogin(ctx context.Context, creds actor.Credentials) error {
	if err := p.fill(ctx, emailInput, creds.Email); err != nil {
		return err
	}
	if err := p.fill(ctx, passwordInput, creds.Password); err != nil {
		return err
	}
	return p.click(ctx, signInButton)
}

// EmployeesLoadedSpec waits for the post-login employees landing page.
func (p *Portal) EmployeesLoadedSpec() poll.Spec {
	return p.urlSpec("employees page", employeesURL, p.timeouts.URL)
}

// NavigateToDashboard opens the shot list from the sidebar. The first click
// is sometimes swallowed while the sidebar hydrates, so it is retried once.
func (p *Portal) NavigateToDashboard(ctx context.Context) error {
	p.logger.Printf("-> Navigating to Shots Dashboard via Sidebar...")
	btn := dashboardButton(p.caps.DashboardLabel)
	if _, err := p.waitVisible(ctx, "dashboard button", btn, p.timeouts.Element); err != nil {
		return err
	}
	for attempt := 0; attempt < 2; attempt++ {
		if err := p.surface.Resolve(btn).Click(ctx); err != nil {
			return err
		}
		_, err := p.poller.Poll(ctx, p.urlSpec("shots url", shotURL, p.timeouts.Dashboard))
		if err == nil {
			break
		}
		if attempt == 1 || ctx.Err() != nil {
			return err
		}
		p.logger.Printf("-> [RETRY] Click did not transition to Shots page. Retrying click...")
	}
	return p.VerifyDashboardLoaded(ctx)
}

// VerifyDashboardLoaded checks the URL and the dashboard header.
func (p *Portal) VerifyDashboardLoaded(ctx context.Context) error {
	if _, err := p.poller.Poll(ctx, p.urlSpec("shots url", shotURL, p.timeouts.URL)); err != nil {
		return err
	}
	if _, err := p.waitVisible(ctx, "dashboard header", dashboardHeader, p.timeouts.Element); err != nil {
		return err
	}
	p.logger.Printf("[PASS] Shots Dashboard loaded successfully.")
	return nil
}

// DashboardLoadedSpec is VerifyDashboardLoaded's header check as a spec.
func (p *Portal) DashboardLoadedSpec() poll.Spec {
	return poll.Spec{Name: "dashboard header", Query: dashboardHeader, Expected: poll.Visible(), Timeout: p.timeouts.Element}
}

// SearchShot types name into the search box key by key and submits.
func (p *Portal) SearchShot(ctx context.Context, name string) error {
	p.logger.Printf("-> Searching for Shot: %s", name)
	if _, err := p.waitVisible(ctx, "search input", searchInput, p.timeouts.Element); err != nil {
		return err
	}
	h := p.surface.Resolve(searchInput)
	if err := h.Click(ctx); err != nil {
		return err
	}
	if err := h.Fill(ctx, ""); err != nil {
		return err
	}
	if err := h.Type(ctx, name, p.timeouts.KeyDelay); err != nil {
		return err
	}
	return h.Press(ctx, "Enter")
}

// ShotRowSpec waits for the row of name. If it never shows up the page is
// reloaded and the search repeated, once.
func (p *Portal) ShotRowSpec(name string) poll.Spec {
	return poll.Spec{
		Name:     fmt.Sprintf("shot row %s", name),
		Query:    shotRow(name),
		Expected: poll.Visible(),
		Timeout:  p.timeouts.Row,
		OnTimeout: func(ctx context.Context) error {
			p.logger.Printf("-> [RETRY] Shot '%s' not found. Reloading page...", name)
			if err := p.surface.Reload(ctx); err != nil {
				return err
			}
			if err := p.VerifyDashboardLoaded(ctx); err != nil {
				return err
			}
			h := p.surface.Resolve(searchInput)
			if err := h.Click(ctx); err != nil {
				return err
			}
			if err := h.Fill(ctx, name); err != nil {
				return err
			}
			return h.Press(ctx, "Enter")
		},
	}
}

// VerifyShotVisible searches for name and waits for its row.
func (p *Portal) VerifyShotVisible(ctx context.Context, name string) (locator.Handle, error) {
	if err := p.SearchShot(ctx, name); err != nil {
		return nil, err
	}
	h, err := p.poller.Poll(ctx, p.ShotRowSpec(name))
	if err != nil {
		return nil, err
	}
	p.logger.Printf("[PASS] Shot '%s' is visible in the table.", name)
	return h, nil
}

// RowDetailsSpec waits until the row of name contains every expected value.
func (p *Portal) RowDetailsSpec(name string, want shotdata.RowDetails) poll.Spec {
	row := p.surface.Resolve(shotRow(name))
	expected := want.Expected()
	return poll.Spec{
		Name:    fmt.Sprintf("row details %s", name),
		Timeout: p.timeouts.Element,
		Probe: func(ctx context.Context) (bool, string, error) {
			text, err := row.Text(ctx)
			if err != nil {
				return false, "", err
			}
			var missing []string
			for _, v := range expected {
				if !strings.Contains(text, v) {
					missing = append(missing, v)
				}
			}
			if len(missing) > 0 {
				return false, fmt.Sprintf("row %q lacks %s", text, strings.Join(missing, ", ")), nil
			}
			return true, text, nil
		},
	}
}

// OpenShotMenu opens the row action menu of name.
func (p *Portal) OpenShotMenu(ctx context.Context, name string) error {
	if err := p.caps.Require(p.role, p.caps.CanChangeStatus, "open the shot action menu"); err != nil {
		return err
	}
	return p.click(ctx, shotMenu(name))
}

// ClickChangeStatus picks "Change Status" from the open action menu.
func (p *Portal) ClickChangeStatus(ctx context.Context) error {
	if err := p.caps.Require(p.role, p.caps.CanChangeStatus, "change shot status"); err != nil {
		return err
	}
	return p.click(ctx, changeStatus)
}

// ClickSelectStatusDropdown opens the status picker.
func (p *Portal) ClickSelectStatusDropdown(ctx context.Context) error {
	if err := p.caps.Require(p.role, p.caps.CanChangeStatus, "change shot status"); err != nil {
		return err
	}
	return p.click(ctx, selectStatus)
}

// StatusOptionsSpec waits for the status listbox to open.
func (p *Portal) StatusOptionsSpec() poll.Spec {
	return poll.Spec{Name: "status options", Query: listbox, Expected: poll.Visible(), Timeout: p.timeouts.Element}
}

// OpenShotPopup clicks the exact shot name to open its dialog.
func (p *Portal) OpenShotPopup(ctx context.Context, name string) error {
	p.logger.Printf("-> Clicking on Shot: %s to open popup...", name)
	return p.click(ctx, shotNameCell(name))
}

// PopupSpec waits for the shot dialog showing name.
func (p *Portal) PopupSpec(name string) poll.Spec {
	return poll.Spec{
		Name:     fmt.Sprintf("popup %s", name),
		Query:    shotDialog,
		Expected: poll.HasText(locator.ContainsCase(name)),
		Timeout:  p.timeouts.Element,
	}
}

// PopupStatusSpec waits for a status badge inside the dialog.
func (p *Portal) PopupStatusSpec(status string) poll.Spec {
	return poll.Spec{
		Name:     fmt.Sprintf("popup status %s", status),
		Query:    statusBadge(status),
		Expected: poll.Visible(),
		Timeout:  p.timeouts.Element,
	}
}

// StatusChangeSpec waits for the dialog status to become status after a
// role update propagates.
func (p *Portal) StatusChangeSpec(status string) poll.Spec {
	s := p.PopupStatusSpec(status)
	s.Name = fmt.Sprintf("status changed to %s", status)
	s.Timeout = p.timeouts.Status
	return s
}

// VerifyStatusLocked checks that the status picker in the dialog cannot be
// used: it is disabled outright, or clicking it opens no listbox.
func (p *Portal) VerifyStatusLocked(ctx context.Context) error {
	p.logger.Printf("-> Verifying that the Status Dropdown is locked/non-interactive...")
	trigger, err := p.waitVisible(ctx, "status trigger", statusTrigger(), p.timeouts.Element)
	if err != nil {
		return err
	}

	disabled, err := trigger.Disabled(ctx)
	if err != nil {
		return err
	}
	aria, _, err := trigger.Attribute(ctx, "aria-disabled")
	if err != nil {
		return err
	}
	_, readonly, err := trigger.Attribute(ctx, "readonly")
	if err != nil {
		return err
	}
	if disabled || aria == "true" || readonly {
		p.logger.Printf("[PASS] Status dropdown is restricted (disabled=%t, aria-disabled=%s, readonly=%t).", disabled, aria, readonly)
		return nil
	}

	p.logger.Printf("-> Attempting to click and verify it doesn't open...")
	if err := trigger.Click(ctx, locator.Force()); err != nil {
		return err
	}
	if _, err := p.poller.Poll(ctx, p.StatusListAbsentSpec()); err != nil {
		return err
	}
	p.logger.Printf("[PASS] No listbox appeared. Status dropdown is non-interactive.")
	return nil
}

// StatusListAbsentSpec confirms no status listbox is open.
func (p *Portal) StatusListAbsentSpec() poll.Spec {
	return poll.Spec{Name: "status listbox absent", Query: listbox, Expected: poll.Absent(), Timeout: p.timeouts.Locked}
}

// GoToTeamTab selects the TEAM tab of the dialog and waits for it to be active.
func (p *Portal) GoToTeamTab(ctx context.Context) error {
	p.logger.Printf("-> Navigating to TEAM tab in popup...")
	if err := p.click(ctx, teamTab); err != nil {
		return err
	}
	_, err := p.poller.Poll(ctx, poll.Spec{
		Name:     "team tab selected",
		Query:    teamTab,
		Expected: poll.AttributeEquals("aria-selected", "true"),
		Timeout:  p.timeouts.Element,
	})
	return err
}

func (p *Portal) EditRoles(ctx context.Context) error {
	p.logger.Printf("-> Clicking 'Edit roles' button...")
	return p.click(ctx, editRoles)
}

func (p *Portal) UpdateRoles(ctx context.Context) error {
	p.logger.Printf("-> Clicking 'Update roles' button...")
	return p.click(ctx, updateRoles)
}

// AssignSupervisor picks name in the dialog's Supervisor field.
func (p *Portal) AssignSupervisor(ctx context.Context, name string) error {
	if err := p.caps.Require(p.role, p.caps.CanAssignSupervisor, "assign a supervisor"); err != nil {
		return err
	}
	p.logger.Printf("-> Assigning Supervisor: %s...", name)
	return p.assign(ctx, supervisorLabel, name)
}

// AssignTeamLead picks name in the dialog's TL field.
func (p *Portal) AssignTeamLead(ctx context.Context, name string) error {
	if err := p.caps.Require(p.role, p.caps.CanAssignTeamLead, "assign a team lead"); err != nil {
		return err
	}
	p.logger.Printf("-> Assigning TL: %s...", name)
	return p.assign(ctx, teamLeadLabel, name)
}

func (p *Portal) assign(ctx context.Context, label *regexp.Regexp, name string) error {
	if err := p.click(ctx, roleTrigger(label)); err != nil {
		return err
	}
	return p.click(ctx, personOption(name))
}

// AssignedSpec waits for the dialog to show name.
func (p *Portal) AssignedSpec(name string) poll.Spec {
	return poll.Spec{
		Name:     fmt.Sprintf("%s assigned", name),
		Query:    shotDialog,
		Expected: poll.HasText(locator.Matching(PersonPattern(name))),
		Timeout:  p.timeouts.Element,
	}
}

// ShotListed reports whether name is already on screen, without waiting.
func (p *Portal) ShotListed(ctx context.Context, name string) bool {
	ok, err := p.surface.Resolve(shotNameCell(name)).Visible(ctx)
	return err == nil && ok
}

func (p *Portal) urlSpec(name string, re *regexp.Regexp, timeout time.Duration) poll.Spec {
	return poll.Spec{
		Name:    name,
		Timeout: timeout,
		Probe: func(context.Context) (bool, string, error) {
			u := p.surface.URL()
			return re.MatchString(u), "url " + u, nil
		},
	}
}

func (p *Portal) waitVisible(ctx context.Context, name string, q locator.ElementQuery, timeout time.Duration) (locator.Handle, error) {
	return p.poller.Poll(ctx, poll.Spec{Name: name, Query: q, Expected: poll.Visible(), Timeout: timeout})
}

// click waits for q to be visible, then clicks it.
func (p *Portal) click(ctx context.Context, q locator.ElementQuery) error {
	h, err := p.waitVisible(ctx, q.String(), q, p.timeouts.Element)
	if err != nil {
		return err
	}
	return h.Click(ctx)
}

func (p *Portal) fill(ctx context.Context, q locator.ElementQuery, value string) error {
	h, err := p.waitVisible(ctx, q.String(), q, p.timeouts.Element)
	if err != nil {
		return err
	}
	return h.Fill(ctx, value)
}
