package report

// Gauges only. A textfile describes the last run, nothing else.

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Decisions lists every value of the decision label.
var Decisions = []string{"proceed", "skip", "dryrun"}

// Metrics holds the gauges describing the last run of one lock.
type Metrics struct {
	registry *prometheus.Registry

	ExitCode     prometheus.Gauge
	LastRun      prometheus.Gauge
	Duration     prometheus.Gauge
	LockMTime    prometheus.Gauge
	TimeoutFired prometheus.Gauge
	Decision     *prometheus.GaugeVec
}

// NewMetrics registers the gauges on a private registry, labeled with the
// lock path.
func NewMetrics(lock string) *Metrics {
	labels := prometheus.Labels{"lock": lock}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "runlock_last_exit_code",
			Help:        "Exit code of the last invocation.",
			ConstLabels: labels,
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "runlock_last_run_timestamp_seconds",
			Help:        "Unix time the last invocation finished.",
			ConstLabels: labels,
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "runlock_last_duration_seconds",
			Help:        "Run time of the last supervised command.",
			ConstLabels: labels,
		}),
		LockMTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "runlock_lock_mtime_seconds",
			Help:        "Modification time of the lock file (last successful run).",
			ConstLabels: labels,
		}),
		TimeoutFired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "runlock_timeout_fired",
			Help:        "1 if the last command was sent the timeout signal.",
			ConstLabels: labels,
		}),
		Decision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "runlock_decision",
			Help:        "Staleness decision of the last invocation (1 for the active one).",
			ConstLabels: labels,
		}, []string{"decision"}),
	}

	m.registry.MustRegister(m.ExitCode, m.LastRun, m.Duration, m.LockMTime, m.TimeoutFired, m.Decision)
	return m
}

// Record sets every gauge from r.
func (m *Metrics) Record(r *Result) {
	m.ExitCode.Set(float64(r.ExitCode))
	m.LastRun.Set(float64(r.EndTime.Unix()))
	m.Duration.Set(r.Duration.Seconds())
	m.LockMTime.Set(float64(r.LockMTime))
	if r.TimedOut {
		m.TimeoutFired.Set(1)
	} else {
		m.TimeoutFired.Set(0)
	}
	for _, d := range Decisions {
		v := 0.0
		if d == r.Decision {
			v = 1
		}
		m.Decision.WithLabelValues(d).Set(v)
	}
}

// WriteTextfile writes the gauges in the node_exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
