package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/transfa/payflow/internal/loading"
	"github.com/transfa/payflow/internal/toast"
)

// Pipeline outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeInvalid   = "invalid"
	OutcomeCancelled = "cancelled"
	OutcomeLocked    = "locked"
	OutcomeBusy      = "busy"
)

// Metrics holds the payflow collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PipelineTotal     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PhaseTransitions  *prometheus.CounterVec
	ToastChanges      *prometheus.CounterVec
	DispatchFailures  *prometheus.CounterVec
	Workspaces        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_pipeline_total",
			Help: "Transaction pipelines by kind and outcome.",
		}, []string{"kind", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payflow_operation_duration_seconds",
			Help:    "Latency of the external transaction operation.",
			Buckets: []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"kind", "result"}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_loading_phase_transitions_total",
			Help: "Loading controller transitions by entered phase.",
		}, []string{"phase"}),
		ToastChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_toast_changes_total",
			Help: "Toast queue changes by type (added, dismissed, evicted, cleared).",
		}, []string{"type", "kind"}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_dispatch_failures_total",
			Help: "Best-effort notification dispatches that failed.",
		}, []string{"event_type"}),
		Workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payflow_workspaces_active",
			Help: "Checkout workspaces currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PipelineTotal, m.OperationDuration, m.PhaseTransitions, m.ToastChanges, m.DispatchFailures, m.Workspaces)
	}
	return m
}

func (m *Metrics) ObservePipeline(kind, outcome string) {
	if m == nil {
		return
	}
	m.PipelineTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveOperation(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (m *Metrics) ObserveDispatchFailure(eventType string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetWorkspaces(n int) {
	if m == nil {
		return
	}
	m.Workspaces.Set(float64(n))
}

// WatchLoading counts every phase the controller enters. The returned func
// stops watching.
func (m *Metrics) WatchLoading(c *loading.Controller) func() {
	if m == nil || c == nil {
		return func() {}
	}
	return c.Subscribe(func(s loading.State) {
		m.PhaseTransitions.WithLabelValues(s.Phase.String()).Inc()
	})
}

// WatchToasts counts queue changes, evictions included.
func (m *Metrics) WatchToasts(q *toast.Queue) func() {
	if m == nil || q == nil {
		return func() {}
	}
	return q.Subscribe(func(c toast.Change) {
		m.ToastChanges.WithLabelValues(string(c.Type), string(c.Entry.Kind)).Inc()
	})
}
