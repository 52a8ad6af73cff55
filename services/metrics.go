package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bündelt die Prometheus-Metriken eines Aggregationslaufs.
type Metrics struct {
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	StageDuration     *prometheus.HistogramVec
	Links             *prometheus.GaugeVec
	StudyAssignments  *prometheus.CounterVec
	ObjectAssignments *prometheus.CounterVec
}

// NewMetrics erstellt die Metriken und registriert sie bei reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "study_aggregator_runs_total",
			Help: "Number of aggregation runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "study_aggregator_run_duration_seconds",
			Help:    "Duration of complete aggregation runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "study_aggregator_stage_duration_seconds",
			Help:    "Duration of single pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		Links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "study_aggregator_links",
			Help: "Link counts of the last linkage stage.",
		}, []string{"kind"}),
		StudyAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "study_aggregator_study_assignments_total",
			Help: "Study identity assignments by match status.",
		}, []string{"status"}),
		ObjectAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "study_aggregator_object_assignments_total",
			Help: "Object identity assignments by outcome.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Runs, m.RunDuration, m.StageDuration, m.Links, m.StudyAssignments, m.ObjectAssignments)
	return m
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordLinks(s LinkStats) {
	if m == nil {
		return
	}
	m.Links.WithLabelValues("collected").Set(float64(s.Collected))
	m.Links.WithLabelValues("dropped").Set(float64(s.Dropped))
	m.Links.WithLabelValues("invalid").Set(float64(s.Invalid))
	m.Links.WithLabelValues("unorientable").Set(float64(s.Unorientable))
	m.Links.WithLabelValues("grouped").Set(float64(s.Groups.ConsumedLinks))
	m.Links.WithLabelValues("resolved").Set(float64(s.Cascade.Resolved))
}

func (m *Metrics) recordStudies(s StudyStats) {
	if m == nil {
		return
	}
	m.StudyAssignments.WithLabelValues("existing").Add(float64(s.Existing))
	m.StudyAssignments.WithLabelValues("linked").Add(float64(s.Linked))
	m.StudyAssignments.WithLabelValues("new").Add(float64(s.New))
}

func (m *Metrics) recordObjects(s ObjectStats) {
	if m == nil {
		return
	}
	m.ObjectAssignments.WithLabelValues("existing").Add(float64(s.Existing))
	m.ObjectAssignments.WithLabelValues("duplicate_title").Add(float64(s.TitleDuplicates))
	m.ObjectAssignments.WithLabelValues("duplicate_url").Add(float64(s.URLDuplicates))
	m.ObjectAssignments.WithLabelValues("new").Add(float64(s.New))
	m.ObjectAssignments.WithLabelValues("unresolved").Add(float64(s.Unresolved))
}

func (m *Metrics) recordRun(status string, start time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}
