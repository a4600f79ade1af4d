// Package report turns scenario results into the suite report printed on the
// console and saved as JSON or YAML, and exports run metrics.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
	"github.com/coherent-in/shotbuzz-e2e/internal/version"
)

// StepEntry is one step in the report.
type StepEntry struct {
	Name      string   `json:"name" yaml:"name"`
	Outcome   string   `json:"outcome" yaml:"outcome"`
	ElapsedMs int64    `json:"elapsed_ms" yaml:"elapsed_ms"`
	Kind      string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
	Artifacts []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// ScenarioEntry is one scenario run in the report.
type ScenarioEntry struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Role         string      `json:"role,omitempty" yaml:"role,omitempty"`
	Tags         []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	State        string      `json:"state" yaml:"state"`
	Passed       bool        `json:"passed" yaml:"passed"`
	FailedStep   string      `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Kind         string      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error        string      `json:"error,omitempty" yaml:"error,omitempty"`
	LastObserved string      `json:"last_observed,omitempty" yaml:"last_observed,omitempty"`
	Started      time.Time   `json:"started" yaml:"started"`
	DurationMs   int64       `json:"duration_ms" yaml:"duration_ms"`
	Steps        []StepEntry `json:"steps" yaml:"steps"`
}

// Report is the outcome of one suite run.
type Report struct {
	RunID       string          `json:"run_id" yaml:"run_id"`
	Timestamp   time.Time       `json:"timestamp" yaml:"timestamp"`
	Environment string          `json:"environment,omitempty" yaml:"environment,omitempty"`
	BaseURL     string          `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Build       version.Info    `json:"build" yaml:"build"`
	Total       int             `json:"total_scenarios" yaml:"total_scenarios"`
	Passed      int             `json:"passed" yaml:"passed"`
	Failed      int             `json:"failed" yaml:"failed"`
	SuccessRate float64         `json:"success_rate" yaml:"success_rate"`
	DurationMs  int64           `json:"duration_ms" yaml:"duration_ms"`
	Scenarios   []ScenarioEntry `json:"scenarios" yaml:"scenarios"`
}

// Meta describes the environment a run targeted.
type Meta struct {
	Environment string
	BaseURL     string
}

// New builds a report from results in the order given.
func New(results []scenario.Result, meta Meta) Report {
	r := Report{
		RunID:       uuid.NewString(),
		Timestamp:   time.Now(),
		Environment: meta.Environment,
		BaseURL:     meta.BaseURL,
		Build:       version.Get(),
		Total:       len(results),
	}
	var first, last time.Time
	for _, res := range results {
		entry := scenarioEntry(res)
		if entry.Passed {
			r.Passed++
		} else {
			r.Failed++
		}
		if first.IsZero() || (!res.Started.IsZero() && res.Started.Before(first)) {
			first = res.Started
		}
		if res.Finished.After(last) {
			last = res.Finished
		}
		r.Scenarios = append(r.Scenarios, entry)
	}
	if r.Total > 0 {
		r.SuccessRate = float64(r.Passed) / float64(r.Total) * 100
	}
	if !first.IsZero() && last.After(first) {
		r.DurationMs = last.Sub(first).Milliseconds()
	}
	return r
}

func scenarioEntry(res scenario.Result) ScenarioEntry {
	e := ScenarioEntry{
		ID:         res.ID,
		Name:       res.Scenario,
		Role:       string(res.Role),
		Tags:       res.Tags,
		State:      string(res.State),
		Passed:     res.Passed(),
		Started:    res.Started,
		DurationMs: res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
		e.Kind = string(failure.KindOf(res.Err))
		var fe *failure.Error
		if errors.As(res.Err, &fe) {
			e.LastObserved = fe.LastObserved
		}
	}
	if fs := res.FailedStep(); fs != nil {
		e.FailedStep = fs.Name
	} else if res.Err != nil {
		var fe *failure.Error
		if errors.As(res.Err, &fe) {
			e.FailedStep = fe.Step
		}
	}
	for _, st := range res.Steps {
		se := StepEntry{
			Name:      st.Name,
			Outcome:   string(st.Outcome),
			ElapsedMs: st.Elapsed.Milliseconds(),
			Artifacts: st.Artifacts,
		}
		if st.Err != nil {
			se.Error = st.Err.Error()
			se.Kind = string(st.Kind())
		}
		e.Steps = append(e.Steps, se)
	}
	return e
}

// OK reports whether every scenario passed.
func (r Report) OK() bool {
	return r.Failed == 0
}

// Print writes the human readable report.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, "                 SHOTBUZZ E2E REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Run: %s\n", r.RunID)
	fmt.Fprintf(w, "Runner: shotbuzz-e2e %s\n", r.Build.Version)
	fmt.Fprintf(w, "Timestamp: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	if r.BaseURL != "" {
		fmt.Fprintf(w, "Target: %s\n", r.BaseURL)
	}
	fmt.Fprintf(w, "Total Scenarios: %d\n", r.Total)
	fmt.Fprintf(w, "Passed: %d\n", r.Passed)
	fmt.Fprintf(w, "Failed: %d\n", r.Failed)
	fmt.Fprintf(w, "Success Rate: %.1f%%\n", r.SuccessRate)
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, sc := range r.Scenarios {
		status := "✅ PASS"
		if !sc.Passed {
			status = "❌ FAIL"
		}
		fmt.Fprintf(w, "%s %s (%s, %s)\n", status, sc.Name, sc.Role, time.Duration(sc.DurationMs)*time.Millisecond)
		for _, st := range sc.Steps {
			fmt.Fprintf(w, "   %-7s %s\n", st.Outcome, st.Name)
			for _, a := range st.Artifacts {
				fmt.Fprintf(w, "           artifact: %s\n", a)
			}
		}
		if sc.Error != "" {
			fmt.Fprintf(w, "   Error: %s\n", sc.Error)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
	if r.Failed > 0 {
		fmt.Fprintf(w, "\n⚠️  %d scenario(s) failed\n", r.Failed)
	} else {
		fmt.Fprintln(w, "\n✅ All scenarios passed!")
	}
}

// Encode writes the report as json or yaml.
func (r Report) Encode(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// Save writes the report to path, creating parent directories.
func (r Report) Save(path, format string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Encode(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
