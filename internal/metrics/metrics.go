package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks the case lifecycle and governance outcomes
type Metrics struct {
	CasesOpened          prometheus.Counter
	SubmissionsSealed    prometheus.Counter
	GovernanceRejections *prometheus.CounterVec
	Interventions        *prometheus.CounterVec
	FeedbackRecorded     *prometheus.CounterVec
	RiskScore            prometheus.Histogram
	OperationDuration    *prometheus.HistogramVec
	AsyncSinkFailures    *prometheus.CounterVec
}

// New registers all metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CasesOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "sar_cases_opened_total",
			Help: "Total number of cases opened from alerts",
		}),
		SubmissionsSealed: f.NewCounter(prometheus.CounterOpts{
			Name: "sar_submissions_sealed_total",
			Help: "Total number of SAR submissions sealed",
		}),
		GovernanceRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sar_governance_rejections_total",
			Help: "Submission attempts rejected by the governance gate, by first unmet precondition",
		}, []string{"kind"}),
		Interventions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sar_interventions_total",
			Help: "Interventions executed, by action",
		}, []string{"action"}),
		FeedbackRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sar_feedback_total",
			Help: "Analyst dispositions recorded, by label",
		}, []string{"label"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sar_case_risk_score",
			Help:    "Risk score of opened cases",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sar_operation_duration_seconds",
			Help:    "Duration of case operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		AsyncSinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sar_async_sink_failures_total",
			Help: "Best-effort post-commit side effects that failed, by sink",
		}, []string{"sink"}),
	}
}

// ObserveOperation records the duration of op. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler exposes the registry for scraping
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
