package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/config"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotbuzz"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		App:      config.AppConfig{BaseURL: "https://shotbuzz.test", Env: "test"},
		Browser:  config.BrowserConfig{ResultsDir: dir},
		Poll:     config.PollConfig{Timeout: 3 * time.Second, Interval: 10 * time.Millisecond},
		Scenario: config.ScenarioConfig{Timeout: time.Minute, Parallel: 1},
		API:      config.APIConfig{Timeout: 5 * time.Second},
		Shot: config.ShotConfig{
			Prefix: "F7", Supervisor: "Mitchel John", TeamLead: "Vidya Shree",
			HOD: "TravisHead", Complexity: "EASY",
		},
		Report: config.ReportConfig{
			File:        filepath.Join(dir, "report.yaml"),
			Format:      "yaml",
			MetricsFile: filepath.Join(dir, "shotbuzz.prom"),
		},
	}
}

func TestApplyFlags(t *testing.T) {
	defer func() { headedFlag, verboseFlag, formatFlag, parallelFlag = false, false, "", 0 }()
	headedFlag, verboseFlag, formatFlag, parallelFlag = true, true, "json", 3

	cfg := testConfig(t)
	cfg.Browser.Headless = true
	applyFlags(cfg)

	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.Verbose)
	assert.True(t, cfg.API.Debug)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, 3, cfg.Scenario.Parallel)
}

func TestSandboxUsersKeepsConfigured(t *testing.T) {
	admin := actor.Credentials{Email: "me@coherent.in", Password: "pw"}
	users := sandboxUsers(map[actor.Role]actor.Credentials{actor.RoleAdmin: admin})

	require.Len(t, users, len(actor.Roles))
	assert.Equal(t, admin, users[actor.RoleAdmin])
	assert.Equal(t, "team_lead@sandbox.local", users[actor.RoleTeamLead].Email)
}

func TestRolesOf(t *testing.T) {
	roles := rolesOf(shotbuzz.Scenarios(shotbuzz.DefaultSettings()))
	assert.Equal(t, []actor.Role{actor.RoleAdmin, actor.RoleHead, actor.RoleSupervisor, actor.RoleTeamLead}, roles)
}

func TestList(t *testing.T) {
	defer func() { tagsFlag = nil }()
	tagsFlag = []string{"team_lead"}

	var out bytes.Buffer
	listCmd.SetOut(&out)
	require.NoError(t, runList(listCmd, nil))

	assert.Contains(t, out.String(), "SCENARIO")
	assert.Contains(t, out.String(), "tl-verify-assignment")
	assert.Contains(t, out.String(), shotbuzz.FixtureShotName)
	assert.NotContains(t, out.String(), "admin-api-integration")
}

func TestExecuteUnknownFilter(t *testing.T) {
	_, err := execute(context.Background(), testConfig(t), scenario.Filter{Tags: []string{"nightly"}}, true, log.New(io.Discard, "", 0))
	assert.Equal(t, failure.KindConfig, failure.KindOf(err))
}

func TestExecuteDryRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	rep, err := execute(context.Background(), cfg,
		scenario.Filter{Names: []string{"admin-api-integration", "admin-create-and-verify", "head-assign-supervisor"}},
		true, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Total)
	assert.True(t, rep.OK(), "%+v", rep.Scenarios)
	assert.Equal(t, "sandbox", rep.Environment)

	raw, err := os.ReadFile(cfg.Report.File)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "head-assign-supervisor")

	prom, err := os.ReadFile(cfg.Report.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `shotbuzz_e2e_scenarios_total{state="completed"} 3`)
}

func TestScheduleBudget(t *testing.T) {
	cfg := testConfig(t)

	all, err := scheduleBudget(cfg, scenario.Filter{})
	require.NoError(t, err)
	assert.Equal(t, launchAllowance+6*time.Minute, all)

	two, err := scheduleBudget(cfg, scenario.Filter{Names: []string{"admin-create-and-verify", "head-assign-supervisor"}})
	require.NoError(t, err)
	assert.Equal(t, launchAllowance+2*time.Minute, two)

	_, err = scheduleBudget(cfg, scenario.Filter{Tags: []string{"nightly"}})
	assert.Equal(t, failure.KindConfig, failure.KindOf(err))
}
