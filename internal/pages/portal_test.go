package pages_test

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/api"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/pages"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/sandbox"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotdata"
)

var users = map[actor.Role]actor.Credentials{
	actor.RoleAdmin:      {Email: "admin@coherent.in", Password: "admin"},
	actor.RoleHead:       {Email: "head@coherent.in", Password: "head"},
	actor.RoleSupervisor: {Email: "sup@coherent.in", Password: "sup"},
	actor.RoleTeamLead:   {Email: "tl@coherent.in", Password: "tl"},
}

var short = pages.Timeouts{
	Element:   time.Second,
	URL:       time.Second,
	Row:       300 * time.Millisecond,
	Status:    2 * time.Second,
	Locked:    100 * time.Millisecond,
	KeyDelay:  time.Millisecond,
	Dashboard: 200 * time.Millisecond,
}

type env struct {
	portal *pages.Portal
	poller *poll.Poller
	ws     *sandbox.Workspace
}

func open(t *testing.T, app *sandbox.App, role actor.Role) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ws := app.NewWorkspace()
	t.Cleanup(ws.Close)

	opts := []poll.Option{poll.WithDefaults(2*time.Second, 10*time.Millisecond)}
	_, err := ws.Authenticator(opts...).Login(context.Background(), users[role])
	require.NoError(t, err)

	p := poll.New(ws.Surface(), opts...)
	return env{portal: pages.New(ws.Surface(), p, role, nil).WithTimeouts(short), poller: p, ws: ws}
}

func (e env) poll(t *testing.T, spec poll.Spec) {
	t.Helper()
	_, err := e.poller.Poll(context.Background(), spec)
	require.NoError(t, err, spec.Name)
}

// createShot creates name through the REST API with an admin token, the way
// the suite's setup step does.
func createShot(t *testing.T, app *sandbox.App, name string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := app.NewWorkspace()
	defer ws.Close()
	token, err := ws.Authenticator(poll.WithDefaults(2*time.Second, 10*time.Millisecond)).Login(ctx, users[actor.RoleAdmin])
	require.NoError(t, err)

	baseURL, stop, err := app.Serve(ctx)
	require.NoError(t, err)
	defer stop()

	client := api.NewClient(api.Config{BaseURL: baseURL}).WithNamer(func(string) string { return name })
	rec, err := client.CreateShot(ctx, token, shotdata.NewShotPayload())
	require.NoError(t, err)
	require.Equal(t, name, rec.Name)
}

func TestAdminCreatesAndManagesShot(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{})
	admin := open(t, app, actor.RoleAdmin)
	admin.poll(t, admin.portal.EmployeesLoadedSpec())

	createShot(t, app, "F7_482")

	require.NoError(t, admin.portal.NavigateToDashboard(ctx))
	row, err := admin.portal.VerifyShotVisible(ctx, "F7_482")
	require.NoError(t, err)
	text, err := row.Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "NEW")

	admin.poll(t, admin.portal.RowDetailsSpec("F7_482", shotdata.NewShotRow(shotdata.NewShotPayload(), "TravisHead", "EASY")))

	require.NoError(t, admin.portal.OpenShotMenu(ctx, "F7_482"))
	require.NoError(t, admin.portal.ClickChangeStatus(ctx))
	require.NoError(t, admin.portal.ClickSelectStatusDropdown(ctx))
	admin.poll(t, admin.portal.StatusOptionsSpec())
}

func TestNavigateToDashboardRetriesSwallowedClick(t *testing.T) {
	app := sandbox.NewApp(users, sandbox.Options{SwallowFirstNavClick: true})
	admin := open(t, app, actor.RoleAdmin)

	require.NoError(t, admin.portal.NavigateToDashboard(context.Background()))
	assert.Equal(t, "/shots", admin.ws.Surface().URL())

	clicks := 0
	for _, a := range admin.ws.Surface().Actions() {
		if a.Kind == "click" && a.NodeID == "nav-shots" {
			clicks++
		}
	}
	assert.Equal(t, 2, clicks)
}

func TestShotRowRecoversAfterReload(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{HideNewShotsUntilReload: true})
	admin := open(t, app, actor.RoleAdmin)
	require.NoError(t, admin.portal.NavigateToDashboard(ctx))

	createShot(t, app, "F7_515")

	_, err := admin.portal.VerifyShotVisible(ctx, "F7_515")
	require.NoError(t, err)
	assert.Equal(t, 1, admin.ws.Surface().Reloads())
}

func TestShotRowTimesOutAfterOneRecovery(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{})
	admin := open(t, app, actor.RoleAdmin)
	require.NoError(t, admin.portal.NavigateToDashboard(ctx))

	_, err := admin.portal.VerifyShotVisible(ctx, "F7_999")
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrTimeout)
	assert.Equal(t, 1, admin.ws.Surface().Reloads())
}

func TestHeadAssignsSupervisor(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{PropagationDelay: 100 * time.Millisecond})
	createShot(t, app, "F7_600")
	head := open(t, app, actor.RoleHead)

	require.NoError(t, head.portal.NavigateToDashboard(ctx))
	_, err := head.portal.VerifyShotVisible(ctx, "F7_600")
	require.NoError(t, err)
	require.NoError(t, head.portal.OpenShotPopup(ctx, "F7_600"))
	head.poll(t, head.portal.PopupSpec("F7_600"))
	head.poll(t, head.portal.PopupStatusSpec("YTA"))
	require.NoError(t, head.portal.VerifyStatusLocked(ctx))

	require.NoError(t, head.portal.GoToTeamTab(ctx))
	require.NoError(t, head.portal.EditRoles(ctx))
	require.NoError(t, head.portal.AssignSupervisor(ctx, "Mitchel John"))
	require.NoError(t, head.portal.UpdateRoles(ctx))
	head.poll(t, head.portal.StatusChangeSpec("ATS"))
	head.poll(t, head.portal.AssignedSpec("Mitchel John"))

	shot, ok := app.Shot("F7_600")
	require.True(t, ok)
	assert.Equal(t, "ATS", shot.Status)
}

func TestLockedCheckWithCoarsePollInterval(t *testing.T) {
	app := sandbox.NewApp(users, sandbox.Options{})
	head := open(t, app, actor.RoleHead)

	coarse := poll.New(head.ws.Surface(), poll.WithDefaults(20*time.Second, 2*time.Second))
	_, err := coarse.Poll(context.Background(), head.portal.StatusListAbsentSpec())
	require.NoError(t, err)
}

func TestSupervisorThenTeamLead(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{})
	createShot(t, app, "F7_700")

	sup := open(t, app, actor.RoleSupervisor)
	if !sup.portal.ShotListed(ctx, "F7_700") {
		require.NoError(t, sup.portal.NavigateToDashboard(ctx))
	}
	_, err := sup.portal.VerifyShotVisible(ctx, "F7_700")
	require.NoError(t, err)
	require.NoError(t, sup.portal.OpenShotPopup(ctx, "F7_700"))
	require.NoError(t, sup.portal.GoToTeamTab(ctx))
	require.NoError(t, sup.portal.EditRoles(ctx))
	require.NoError(t, sup.portal.AssignTeamLead(ctx, "Vidya Shree"))
	require.NoError(t, sup.portal.UpdateRoles(ctx))
	// Without a supervisor the shot stays YTA.
	sup.poll(t, sup.portal.PopupStatusSpec("YTA"))

	tl := open(t, app, actor.RoleTeamLead)
	_, err = tl.portal.VerifyShotVisible(ctx, "F7_700")
	require.NoError(t, err)
	require.NoError(t, tl.portal.OpenShotPopup(ctx, "F7_700"))
	tl.poll(t, tl.portal.PopupSpec("F7_700"))
	require.NoError(t, tl.portal.GoToTeamTab(ctx))
	tl.poll(t, tl.portal.AssignedSpec("Vidya Shree"))
}

func TestCapabilitiesGuardActions(t *testing.T) {
	ctx := context.Background()
	app := sandbox.NewApp(users, sandbox.Options{})
	createShot(t, app, "F7_800")

	head := open(t, app, actor.RoleHead)
	before := len(head.ws.Surface().Actions())
	assert.ErrorIs(t, head.portal.OpenShotMenu(ctx, "F7_800"), failure.ErrPermission)
	assert.ErrorIs(t, head.portal.ClickChangeStatus(ctx), failure.ErrPermission)
	assert.ErrorIs(t, head.portal.AssignTeamLead(ctx, "Vidya Shree"), failure.ErrPermission)
	assert.Len(t, head.ws.Surface().Actions(), before, "no UI action before the capability check")

	tl := open(t, app, actor.RoleTeamLead)
	assert.ErrorIs(t, tl.portal.AssignSupervisor(ctx, "Mitchel John"), failure.ErrPermission)
}

func TestPersonPattern(t *testing.T) {
	tests := []struct {
		name, text string
		want       bool
	}{
		{"Mitchel John", "Mitchel John", true},
		{"Mitchel John", "mitchel a. john", true},
		{"Mitchel John", "John Mitchel", false},
		{"A.B", "A.B", true},
		{"A.B", "AxB", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, pages.PersonPattern(tt.name).MatchString(tt.text))
		})
	}
}
