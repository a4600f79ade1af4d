package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
)

// Metrics collects run metrics on a private registry, so repeated runs in
// one process (scheduled mode) never collide on registration.
type Metrics struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	scenarios    *prometheus.CounterVec
	polls        *prometheus.CounterVec
	pollAttempts prometheus.Histogram
	pollDuration prometheus.Histogram
	recoveries   prometheus.Counter
	lastRun      prometheus.Gauge
}

var (
	_ poll.Observer         = (*Metrics)(nil)
	_ scenario.StepObserver = (*Metrics)(nil)
)

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbuzz_e2e_steps_total",
			Help: "Scenario steps by outcome and failure kind",
		}, []string{"scenario", "outcome", "kind"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shotbuzz_e2e_step_duration_seconds",
			Help:    "Duration of executed steps",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"scenario"}),
		scenarios: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbuzz_e2e_scenarios_total",
			Help: "Scenario runs by final state",
		}, []string{"state"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbuzz_e2e_polls_total",
			Help: "Eventual-state polls by result",
		}, []string{"result"}),
		pollAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shotbuzz_e2e_poll_attempts",
			Help:    "Evaluations needed per poll",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shotbuzz_e2e_poll_duration_seconds",
			Help:    "Wall-clock time per poll",
			Buckets: prometheus.DefBuckets,
		}),
		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "shotbuzz_e2e_poll_recoveries_total",
			Help: "Recovery actions run after an exhausted poll budget",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shotbuzz_e2e_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run",
		}),
	}
}

// Registry exposes the collectors, e.g. for testutil or an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePoll(_ string, attempts int, recovered bool, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = string(failure.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollAttempts.Observe(float64(attempts))
	m.pollDuration.Observe(elapsed.Seconds())
	if recovered {
		m.recoveries.Inc()
	}
}

func (m *Metrics) ObserveStep(sc, _ string, outcome scenario.Outcome, kind failure.Kind, elapsed time.Duration) {
	m.steps.WithLabelValues(sc, string(outcome), string(kind)).Inc()
	if outcome != scenario.OutcomeSkipped {
		m.stepDuration.WithLabelValues(sc).Observe(elapsed.Seconds())
	}
}

// ObserveResults records final scenario states and stamps the run.
func (m *Metrics) ObserveResults(results []scenario.Result) {
	for _, r := range results {
		m.scenarios.WithLabelValues(string(r.State)).Inc()
	}
	m.lastRun.SetToCurrentTime()
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
