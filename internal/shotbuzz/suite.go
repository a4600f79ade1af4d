// Package shotbuzz is the ShotBuzz smoke suite: a shot is created through the
// API as Admin and then handed through the Head, Supervisor and Team Lead
// portals, each role checking what the previous one changed.
package shotbuzz

import (
	"context"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/api"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/pages"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotdata"
)

// FixtureShotName is the fixture holding the name of the shot created for
// the role hand-over scenarios.
const FixtureShotName = "shot.name"

const (
	TagSmoke = "smoke"
	TagAPI   = "api"
)

// Settings are the names and budgets the suite expects in the target
// environment.
type Settings struct {
	// API creates the shot. Scenarios that create records fail with
	// SetupFailure without one.
	API        *api.Client
	Supervisor string
	TeamLead   string
	HOD        string
	Complexity string
	Timeouts   pages.Timeouts
	// Timeout bounds each scenario. Zero uses the orchestrator default.
	Timeout time.Duration
}

// DefaultSettings match the dev environment's seed data.
func DefaultSettings() Settings {
	return Settings{
		Supervisor: "Mitchel John",
		TeamLead:   "Vidya Shree",
		HOD:        "TravisHead",
		Complexity: "EASY",
		Timeouts:   pages.DefaultTimeouts,
	}
}

// NewSuite registers the scenarios in the order they must run.
func NewSuite(s Settings) (*scenario.Suite, error) {
	suite := scenario.NewSuite()
	if err := suite.Register(Scenarios(s)...); err != nil {
		return nil, err
	}
	return suite, nil
}

// Scenarios returns the suite's scenarios in run order.
func Scenarios(s Settings) []scenario.Scenario {
	b := builder{s: s}
	return []scenario.Scenario{
		b.adminAPIIntegration(),
		b.adminCreateAndVerify(),
		b.headAssignSupervisor(),
		b.adminVerifyATS(),
		b.supervisorAssignTeamLead(),
		b.teamLeadVerifyAssignment(),
	}
}

type builder struct {
	s Settings
}

const (
	portalKey = "portal"
	shotKey   = "shot"
)

// portal returns the scenario's page model, built on first use for the
// logged in role.
func (b builder) portal(c *scenario.Context) *pages.Portal {
	if v, ok := c.Value(portalKey); ok {
		return v.(*pages.Portal)
	}
	var role actor.Role
	if s := c.Session(); s != nil {
		role = s.Role
	}
	p := pages.New(c.Surface(), c.Poller(), role, c.Logger()).WithTimeouts(b.s.Timeouts)
	c.Set(portalKey, p)
	return p
}

// shotName is the shot a step works on: the one this scenario created, or
// the published fixture.
func shotName(c *scenario.Context) (string, error) {
	if name := c.GetString(shotKey); name != "" {
		return name, nil
	}
	name, err := c.Fixture(FixtureShotName)
	if err != nil {
		return "", err
	}
	c.Set(shotKey, name)
	return name, nil
}

type portalAction func(ctx context.Context, p *pages.Portal, shot string) error

type portalCheck func(p *pages.Portal, shot string) poll.Spec

// step builds a scenario step over the portal. Either half may be nil.
func (b builder) step(name string, action portalAction, check portalCheck) scenario.Step {
	st := scenario.Step{Name: name}
	if action != nil {
		st.Action = func(ctx context.Context, c *scenario.Context) error {
			shot := c.GetString(shotKey)
			return action(ctx, b.portal(c), shot)
		}
	}
	if check != nil {
		st.Verify = func(c *scenario.Context) (poll.Spec, error) {
			return check(b.portal(c), c.GetString(shotKey)), nil
		}
	}
	return st
}

// useFixture loads the shared shot name into the scenario.
func useFixture() scenario.Step {
	return scenario.Step{
		Name: "load shot fixture",
		Action: func(_ context.Context, c *scenario.Context) error {
			name, err := shotName(c)
			if err != nil {
				return err
			}
			c.Logger().Printf("-> Working on shot %s", name)
			return nil
		},
	}
}

// createShot creates a shot through the API with the session's token.
func (b builder) createShot(publish bool) scenario.Step {
	return scenario.Step{
		Name: "create shot via API",
		Action: func(ctx context.Context, c *scenario.Context) error {
			if b.s.API == nil {
				return failure.New(failure.KindSetupFailure, "no API client configured")
			}
			sess := c.Session()
			if sess == nil || sess.Token == "" {
				return failure.New(failure.KindSetupFailure, "no access token captured at login")
			}
			if err := sess.Capabilities.Require(sess.Role, sess.Capabilities.CanCreateShots, "create shots"); err != nil {
				return err
			}
			rec, err := b.s.API.CreateShot(ctx, sess.Token, shotdata.NewShotPayload())
			if err != nil {
				return err
			}
			c.Logger().Printf("[PASS] API: Shot Created with name: %s", rec.Name)
			c.Set(shotKey, rec.Name)
			if publish {
				return c.Publish(FixtureShotName, rec.Name)
			}
			return nil
		},
	}
}

func tokenCaptured() scenario.Step {
	return scenario.Step{
		Name: "capture access token",
		Action: func(_ context.Context, c *scenario.Context) error {
			sess := c.Session()
			if sess == nil || sess.Token == "" {
				return failure.New(failure.KindSetupFailure, "failed to capture access token from login response")
			}
			if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
				return failure.New(failure.KindSetupFailure, "captured token already expired at %s", sess.ExpiresAt.Format(time.RFC3339))
			}
			c.Logger().Printf("[PASS] Login successful and Access Token captured.")
			return nil
		},
	}
}

func (b builder) employeesLoaded() scenario.Step {
	return b.step("verify employees page", nil, func(p *pages.Portal, _ string) poll.Spec {
		return p.EmployeesLoadedSpec()
	})
}

func (b builder) navigateToDashboard() scenario.Step {
	return b.step("navigate to shots dashboard", func(ctx context.Context, p *pages.Portal, _ string) error {
		return p.NavigateToDashboard(ctx)
	}, nil)
}

func (b builder) verifyShotVisible(details *shotdata.RowDetails) scenario.Step {
	var check portalCheck
	if details != nil {
		check = func(p *pages.Portal, shot string) poll.Spec {
			return p.RowDetailsSpec(shot, *details)
		}
	}
	return b.step("verify shot in table", func(ctx context.Context, p *pages.Portal, shot string) error {
		_, err := p.VerifyShotVisible(ctx, shot)
		return err
	}, check)
}

func (b builder) openPopup(status string) []scenario.Step {
	return []scenario.Step{
		b.step("open shot popup", func(ctx context.Context, p *pages.Portal, shot string) error {
			return p.OpenShotPopup(ctx, shot)
		}, func(p *pages.Portal, shot string) poll.Spec {
			return p.PopupSpec(shot)
		}),
		b.step("verify popup status "+status, nil, func(p *pages.Portal, _ string) poll.Spec {
			return p.PopupStatusSpec(status)
		}),
	}
}

func (b builder) openTeamTab() scenario.Step {
	return b.step("open team tab", func(ctx context.Context, p *pages.Portal, _ string) error {
		return p.GoToTeamTab(ctx)
	}, nil)
}

func (b builder) adminAPIIntegration() scenario.Scenario {
	return scenario.Scenario{
		Name:        "admin-api-integration",
		Description: "Admin login captures a token that can create a shot through the API",
		Tags:        []string{TagSmoke, TagAPI, string(actor.RoleAdmin)},
		Role:        actor.RoleAdmin,
		Timeout:     b.s.Timeout,
		Steps: []scenario.Step{
			tokenCaptured(),
			b.createShot(false),
			b.employeesLoaded(),
		},
	}
}

func (b builder) adminCreateAndVerify() scenario.Scenario {
	row := shotdata.NewShotRow(shotdata.NewShotPayload(), b.s.HOD, b.s.Complexity)
	return scenario.Scenario{
		Name:        "admin-create-and-verify",
		Description: "Admin creates a shot and finds it on the dashboard with its action menu",
		Tags:        []string{TagSmoke, string(actor.RoleAdmin)},
		Role:        actor.RoleAdmin,
		Publishes:   []string{FixtureShotName},
		Timeout:     b.s.Timeout,
		Steps: []scenario.Step{
			tokenCaptured(),
			b.createShot(true),
			b.employeesLoaded(),
			b.navigateToDashboard(),
			b.verifyShotVisible(&row),
			b.step("open status menu", func(ctx context.Context, p *pages.Portal, shot string) error {
				if err := p.OpenShotMenu(ctx, shot); err != nil {
					return err
				}
				if err := p.ClickChangeStatus(ctx); err != nil {
					return err
				}
				return p.ClickSelectStatusDropdown(ctx)
			}, func(p *pages.Portal, _ string) poll.Spec {
				return p.StatusOptionsSpec()
			}),
		},
	}
}

func (b builder) headAssignSupervisor() scenario.Scenario {
	steps := []scenario.Step{
		useFixture(),
		b.navigateToDashboard(),
		b.verifyShotVisible(nil),
	}
	steps = append(steps, b.openPopup("YTA")...)
	steps = append(steps,
		b.step("verify status locked", func(ctx context.Context, p *pages.Portal, _ string) error {
			return p.VerifyStatusLocked(ctx)
		}, nil),
		b.openTeamTab(),
		b.step("assign supervisor", func(ctx context.Context, p *pages.Portal, _ string) error {
			if err := p.EditRoles(ctx); err != nil {
				return err
			}
			if err := p.AssignSupervisor(ctx, b.s.Supervisor); err != nil {
				return err
			}
			return p.UpdateRoles(ctx)
		}, func(p *pages.Portal, _ string) poll.Spec {
			return p.StatusChangeSpec("ATS")
		}),
		b.step("verify supervisor assigned", nil, func(p *pages.Portal, _ string) poll.Spec {
			return p.AssignedSpec(b.s.Supervisor)
		}),
	)
	return scenario.Scenario{
		Name:        "head-assign-supervisor",
		Description: "Head sees the new shot with a locked status and assigns a supervisor",
		Tags:        []string{TagSmoke, string(actor.RoleHead)},
		Role:        actor.RoleHead,
		Requires:    []string{FixtureShotName},
		Timeout:     b.s.Timeout,
		Steps:       steps,
	}
}

func (b builder) adminVerifyATS() scenario.Scenario {
	return scenario.Scenario{
		Name:        "admin-verify-ats",
		Description: "Admin sees the shot moved to ATS",
		Tags:        []string{TagSmoke, string(actor.RoleAdmin)},
		Role:        actor.RoleAdmin,
		Requires:    []string{FixtureShotName},
		Timeout:     b.s.Timeout,
		Steps: []scenario.Step{
			useFixture(),
			b.employeesLoaded(),
			b.navigateToDashboard(),
			b.verifyShotVisible(&shotdata.RowDetails{Status: "ATS"}),
		},
	}
}

func (b builder) supervisorAssignTeamLead() scenario.Scenario {
	steps := []scenario.Step{
		useFixture(),
		b.step("open shots dashboard", func(ctx context.Context, p *pages.Portal, shot string) error {
			if p.ShotListed(ctx, shot) {
				return nil
			}
			return p.NavigateToDashboard(ctx)
		}, nil),
		b.verifyShotVisible(nil),
	}
	steps = append(steps, b.openPopup("ATS")...)
	steps = append(steps,
		b.openTeamTab(),
		b.step("assign team lead", func(ctx context.Context, p *pages.Portal, _ string) error {
			if err := p.EditRoles(ctx); err != nil {
				return err
			}
			if err := p.AssignTeamLead(ctx, b.s.TeamLead); err != nil {
				return err
			}
			return p.UpdateRoles(ctx)
		}, func(p *pages.Portal, _ string) poll.Spec {
			return p.StatusChangeSpec("ATL")
		}),
	)
	return scenario.Scenario{
		Name:        "supervisor-assign-tl",
		Description: "Supervisor sees the shot in ATS and assigns a team lead",
		Tags:        []string{TagSmoke, string(actor.RoleSupervisor)},
		Role:        actor.RoleSupervisor,
		Requires:    []string{FixtureShotName},
		Timeout:     b.s.Timeout,
		Steps:       steps,
	}
}

func (b builder) teamLeadVerifyAssignment() scenario.Scenario {
	steps := []scenario.Step{
		useFixture(),
		b.verifyShotVisible(nil),
	}
	steps = append(steps, b.openPopup("ATL")...)
	steps = append(steps,
		b.openTeamTab(),
		b.step("verify team lead assigned", nil, func(p *pages.Portal, _ string) poll.Spec {
			return p.AssignedSpec(b.s.TeamLead)
		}),
	)
	return scenario.Scenario{
		Name:        "tl-verify-assignment",
		Description: "Team lead sees the shot in ATL with their assignment",
		Tags:        []string{TagSmoke, string(actor.RoleTeamLead)},
		Role:        actor.RoleTeamLead,
		Requires:    []string{FixtureShotName},
		Timeout:     b.s.Timeout,
		Steps:       steps,
	}
}
