package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the runner.
type Metrics struct {
	registry         *prometheus.Registry
	Polls            *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	CommandsInFlight prometheus.Gauge
	Actions          *prometheus.CounterVec
	ScriptDuration   *prometheus.HistogramVec
}

// NewMetrics constructs a metrics registry with runner collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_runner_polls_total",
		Help: "Poll attempts by outcome (ok, empty, timeout, error)",
	}, []string{"outcome"})

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_runner_requests_total",
		Help: "HTTP calls to the coordinating server by endpoint and status class",
	}, []string{"endpoint", "status"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_runner_retries_total",
		Help: "Retries after a service-unavailable response, by endpoint",
	}, []string{"endpoint"})

	cmds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_runner_commands_total",
		Help: "Processed commands by type and outcome",
	}, []string{"type", "outcome"})

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tusk_runner_commands_in_flight",
		Help: "File commands currently executing",
	})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_runner_actions_total",
		Help: "Executed file actions by action and outcome",
	}, []string{"action", "outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tusk_runner_script_duration_seconds",
		Help:    "Script execution duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"script", "outcome"})

	reg.MustRegister(polls, reqs, retries, cmds, inflight, actions, durs)

	return &Metrics{
		registry:         reg,
		Polls:            polls,
		Requests:         reqs,
		Retries:          retries,
		Commands:         cmds,
		CommandsInFlight: inflight,
		Actions:          actions,
		ScriptDuration:   durs,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPoll counts a poll attempt.
func (m *Metrics) RecordPoll(outcome string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordRequest counts an HTTP call. status is a class such as "2xx" or "error".
func (m *Metrics) RecordRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(orUnknown(endpoint), orUnknown(status)).Inc()
}

// RecordRetry counts a retry for an endpoint.
func (m *Metrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(orUnknown(endpoint)).Inc()
}

// RecordCommand counts a processed command.
func (m *Metrics) RecordCommand(kind, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(orUnknown(kind), orUnknown(outcome)).Inc()
}

// IncInFlight increments the in-flight command gauge.
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.CommandsInFlight.Inc()
}

// DecInFlight decrements the in-flight command gauge.
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.CommandsInFlight.Dec()
}

// RecordAction counts an executed action. outcome is "ok", "fail" or "skipped".
func (m *Metrics) RecordAction(action, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(orUnknown(action), orUnknown(outcome)).Inc()
}

// RecordScript observes a script run.
func (m *Metrics) RecordScript(script string, exitCode int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if exitCode != 0 {
		outcome = "fail"
	}
	m.ScriptDuration.WithLabelValues(orUnknown(script), outcome).Observe(duration.Seconds())
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
