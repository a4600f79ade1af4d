package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
)

func sampleResults() []scenario.Result {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	timeout := failure.New(failure.KindTimeout, "shot row F7_482 not satisfied within 20s").
		WithObserved("no match").
		WithStep("head-assign-supervisor", "verify shot visible")
	return []scenario.Result{
		{
			ID: "a", Scenario: "admin-create-and-verify", Role: actor.RoleAdmin, Tags: []string{"smoke"},
			State: scenario.StateCompleted, Started: start, Finished: start.Add(4 * time.Second),
			Steps: []scenario.StepResult{{Name: "login", Outcome: scenario.OutcomePass, Elapsed: time.Second}},
		},
		{
			ID: "b", Scenario: "head-assign-supervisor", Role: actor.RoleHead,
			State: scenario.StateAborted, Err: timeout, Started: start.Add(5 * time.Second), Finished: start.Add(30 * time.Second),
			Steps: []scenario.StepResult{
				{Name: "verify shot visible", Outcome: scenario.OutcomeFail, Elapsed: 20 * time.Second, Err: timeout, Artifacts: []string{"shots/head.png"}},
				{Name: "open popup", Outcome: scenario.OutcomeSkipped},
			},
		},
	}
}

func TestNew(t *testing.T) {
	r := New(sampleResults(), Meta{Environment: "dev", BaseURL: "https://x.test"})

	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Passed)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 50.0, r.SuccessRate, 0.001)
	assert.Equal(t, int64(30000), r.DurationMs)
	assert.False(t, r.OK())

	failed := r.Scenarios[1]
	assert.Equal(t, "verify shot visible", failed.FailedStep)
	assert.Equal(t, "Timeout", failed.Kind)
	assert.Equal(t, "no match", failed.LastObserved)
	assert.Equal(t, []string{"shots/head.png"}, failed.Steps[0].Artifacts)
	assert.Equal(t, "skipped", failed.Steps[1].Outcome)
	assert.Empty(t, failed.Steps[1].Error)
}

func TestMissingFixtureNamesPreconditionStep(t *testing.T) {
	err := failure.New(failure.KindMissingFixture, "fixture shot.name not published").WithStep("tl", "preconditions")
	r := New([]scenario.Result{{Scenario: "tl", State: scenario.StateAborted, Err: err,
		Steps: []scenario.StepResult{{Name: "login", Outcome: scenario.OutcomeSkipped}}}}, Meta{})

	assert.Equal(t, "preconditions", r.Scenarios[0].FailedStep)
	assert.Equal(t, "MissingFixture", r.Scenarios[0].Kind)
}

func TestEncode(t *testing.T) {
	r := New(sampleResults(), Meta{})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, r.Encode(&buf, "json"))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, r.RunID, decoded["run_id"])
		assert.Len(t, decoded["scenarios"], 2)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, r.Encode(&buf, "yaml"))
		var decoded struct {
			RunID  string `yaml:"run_id"`
			Failed int    `yaml:"failed"`
		}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, r.RunID, decoded.RunID)
		assert.Equal(t, 1, decoded.Failed)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, r.Encode(&bytes.Buffer{}, "xml"))
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	require.NoError(t, New(sampleResults(), Meta{}).Save(path, "json"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"success_rate": 50`)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	New(sampleResults(), Meta{BaseURL: "https://x.test"}).Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "Success Rate: 50.0%")
	assert.Contains(t, out, "✅ PASS admin-create-and-verify")
	assert.Contains(t, out, "❌ FAIL head-assign-supervisor")
	assert.Contains(t, out, "artifact: shots/head.png")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "1 scenario(s) failed"))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObservePoll("row", 3, false, time.Second, nil)
	m.ObservePoll("row", 40, true, 40*time.Second, failure.New(failure.KindTimeout, "x"))
	m.ObservePoll("row", 1, false, 0, errors.New("plain"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("Timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoveries))

	m.ObserveStep("sc", "a", scenario.OutcomePass, "", time.Second)
	m.ObserveStep("sc", "b", scenario.OutcomeFail, failure.KindTimeout, time.Second)
	m.ObserveStep("sc", "c", scenario.OutcomeSkipped, "", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("sc", "fail", "Timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("sc", "skipped", "")))

	m.ObserveResults(sampleResults())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scenarios.WithLabelValues("aborted")))

	path := filepath.Join(t.TempDir(), "shotbuzz.prom")
	require.NoError(t, m.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "shotbuzz_e2e_poll_recoveries_total 1")
}
