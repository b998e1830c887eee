// Package metrics exposes scan and link counters on a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GrigoryEvko/rtlink/internal/report"
)

const namespace = "rtlink"

// Metrics holds the session metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Scan metrics
	FilesDiscovered prometheus.Counter
	FilesScanned    *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	ScansTotal      *prometheus.CounterVec

	// Link metrics
	Issues      *prometheus.CounterVec
	Unresolved  prometheus.Gauge
	Linked      prometheus.Gauge
	FrameGroups prometheus.Gauge
	Patients    prometheus.Gauge
}

// New creates the metrics and registers them on a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_discovered_total",
			Help:      "Total number of candidate files found",
		}),
		FilesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_total",
			Help:      "Total number of scanned files by outcome",
		}, []string{"outcome"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of a scan and link run",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		}),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scan runs by status",
		}, []string{"status"}),
		Issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "issues_total",
			Help:      "Total number of reported issues by kind",
		}, []string{"kind"}),
		Unresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "unresolved_records",
			Help:      "Records without a frame of reference after the last run",
		}),
		Linked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "linked_records",
			Help:      "Records assigned to a frame of reference after the last run",
		}),
		FrameGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frame_groups",
			Help:      "Frame of reference groups after the last run",
		}),
		Patients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "patients",
			Help:      "Patients after the last run",
		}),
	}
	m.Registry.MustRegister(
		m.FilesDiscovered,
		m.FilesScanned,
		m.ScanDuration,
		m.ScansTotal,
		m.Issues,
		m.Unresolved,
		m.Linked,
		m.FrameGroups,
		m.Patients,
	)
	return m
}

// Observe records a finished run.
func (m *Metrics) Observe(r *report.ScanReport) {
	m.FilesDiscovered.Add(float64(r.FilesDiscovered))
	m.FilesScanned.WithLabelValues("accepted").Add(float64(r.FilesAccepted))
	m.FilesScanned.WithLabelValues("unreadable").Add(float64(r.FilesUnreadable))
	m.FilesScanned.WithLabelValues("rejected").Add(float64(r.FilesRejected))
	m.FilesScanned.WithLabelValues("indexed").Add(float64(r.FilesFromIndex))
	for _, issue := range r.Issues {
		m.Issues.WithLabelValues(string(issue.Kind)).Inc()
	}
	m.Unresolved.Set(float64(r.Unresolved))
	m.Linked.Set(float64(r.Linked))
	m.FrameGroups.Set(float64(r.FrameGroups))
	m.Patients.Set(float64(r.Patients))
	m.ScanDuration.Observe(r.Duration().Seconds())
	m.ScansTotal.WithLabelValues("ok").Inc()
}

// Failed records a run that returned an error.
func (m *Metrics) Failed(status string) {
	m.ScansTotal.WithLabelValues(status).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
