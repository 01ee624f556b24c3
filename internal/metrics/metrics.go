// Package metrics exposes service counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raysh454/siteaudit/internal/model"
)

const namespace = "siteaudit"

// Config controls the /metrics endpoint.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func DefaultConfig() Config {
	return Config{Enabled: true, Path: "/metrics"}
}

// Metrics implements the observation hooks of the scan orchestrator,
// watchdog, recovery and job runner.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal       *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	activeScans      prometheus.Gauge
	analyzerRuns     *prometheus.CounterVec
	analyzerDuration *prometheus.HistogramVec
	watchdogChecks   *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	tasksRecovered   prometheus.Counter
	tasksFinished    *prometheus.CounterVec
	battlesTotal     *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a full scan.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
		}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scans",
			Help:      "Scans currently running.",
		}),
		analyzerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_runs_total",
			Help:      "Analyzer executions, by analyzer and slot status.",
		}, []string{"analyzer", "status"}),
		analyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Analyzer execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"analyzer"}),
		watchdogChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_checks_total",
			Help:      "Monitor checks run by the watchdog, by outcome.",
		}, []string{"outcome"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Regression alerts, by kind and delivery result.",
		}, []string{"kind", "delivered"}),
		tasksRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_recovered_total",
			Help:      "Interrupted tasks marked failed at startup.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Queued scan tasks reaching a terminal state.",
		}, []string{"status"}),
		battlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_total",
			Help:      "Battle mode runs, by winner.",
		}, []string{"winner"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scansTotal, m.scanDuration, m.activeScans,
		m.analyzerRuns, m.analyzerDuration,
		m.watchdogChecks, m.alertsTotal,
		m.tasksRecovered, m.tasksFinished, m.battlesTotal,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ScanStarted() { m.activeScans.Inc() }

func (m *Metrics) ScanFinished(outcome string, d time.Duration) {
	m.activeScans.Dec()
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) AnalyzerFinished(name model.AnalyzerName, status model.SlotStatus, d time.Duration) {
	m.analyzerRuns.WithLabelValues(string(name), string(status)).Inc()
	m.analyzerDuration.WithLabelValues(string(name)).Observe(d.Seconds())
}

func (m *Metrics) CheckFinished(outcome string) {
	m.watchdogChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AlertSent(kind string, delivered bool) {
	d := "false"
	if delivered {
		d = "true"
	}
	m.alertsTotal.WithLabelValues(kind, d).Inc()
}

func (m *Metrics) TasksRecovered(n int) { m.tasksRecovered.Add(float64(n)) }

func (m *Metrics) TaskFinished(status model.TaskStatus) {
	m.tasksFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) BattleFinished(winner model.Winner) {
	m.battlesTotal.WithLabelValues(string(winner)).Inc()
}
