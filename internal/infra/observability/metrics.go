package observability

import (
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the franchise core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration      *prometheus.HistogramVec
	externalErrors       *prometheus.CounterVec
	transitions          *prometheus.CounterVec
	authzDenials         *prometheus.CounterVec
	concurrentConflicts  *prometheus.CounterVec
	finalizations        *prometheus.CounterVec
	partialFinalizations prometheus.Counter
	reconcileOutcomes    *prometheus.CounterVec
	uploadedBytes        *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "franchise_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_external_errors_total",
				Help: "Total errors from record and object stores.",
			},
			[]string{"service"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_application_transitions_total",
				Help: "Applied application status transitions.",
			},
			[]string{"from", "to"},
		),
		authzDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_authorization_denials_total",
				Help: "Denied operations by policy and reason.",
			},
			[]string{"policy", "reason"},
		),
		concurrentConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_concurrent_modifications_total",
				Help: "Conditional writes that matched no row.",
			},
			[]string{"resource"},
		),
		finalizations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_contract_finalizations_total",
				Help: "Contract finalization attempts by result.",
			},
			[]string{"result"},
		),
		partialFinalizations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "franchise_partial_finalizations_total",
				Help: "Signed contracts stored without the contracted transition.",
			},
		),
		reconcileOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_reconcile_items_total",
				Help: "Reconciled signed contracts by outcome.",
			},
			[]string{"outcome"},
		),
		uploadedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franchise_uploaded_bytes_total",
				Help: "Bytes written to the object store by bucket.",
			},
			[]string{"bucket"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrTransition counts an applied status change.
func (m *Metrics) IncrTransition(from, to domain.ApplicationStatus) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// IncrAuthzDenial counts a denied operation.
func (m *Metrics) IncrAuthzDenial(policy, reason string) {
	m.authzDenials.WithLabelValues(policy, reason).Inc()
}

// IncrConcurrentConflict counts a conditional write that lost a race.
func (m *Metrics) IncrConcurrentConflict(resource string) {
	m.concurrentConflicts.WithLabelValues(resource).Inc()
}

// IncrFinalization counts a finalization attempt ("ok", "duplicate", "error", "partial").
func (m *Metrics) IncrFinalization(result string) {
	m.finalizations.WithLabelValues(result).Inc()
}

// IncrPartialFinalization counts a saga that stopped after the contract insert.
func (m *Metrics) IncrPartialFinalization() {
	m.partialFinalizations.Inc()
}

// IncrReconcile counts one reconciliation outcome.
func (m *Metrics) IncrReconcile(outcome domain.ReconcileOutcome) {
	m.reconcileOutcomes.WithLabelValues(string(outcome)).Inc()
}

// AddUploadedBytes records bytes written to bucket.
func (m *Metrics) AddUploadedBytes(bucket string, n int64) {
	m.uploadedBytes.WithLabelValues(bucket).Add(float64(n))
}

// GetLifecycleSnapshot returns the current lifecycle counters suitable for
// the GET /v1/admin/metrics/lifecycle endpoint.
func (m *Metrics) GetLifecycleSnapshot() *domain.LifecycleMetrics {
	snap := &domain.LifecycleMetrics{
		Transitions:          make(map[string]float64),
		FinalizationsOK:      getCounterValue(m.finalizations, "ok"),
		FinalizationsFailed:  getCounterValue(m.finalizations, "error") + getCounterValue(m.finalizations, "duplicate"),
		PartialFinalizations: counterValue(m.partialFinalizations),
		ReconcileRepaired:    getCounterValue(m.reconcileOutcomes, string(domain.ReconcileRepaired)),
		ReconcileFlagged:     getCounterValue(m.reconcileOutcomes, string(domain.ReconcileFlagged)),
		AuthorizationDenials: sumCounterVec(m.authzDenials),
		ConcurrentConflicts:  sumCounterVec(m.concurrentConflicts),
	}

	for _, from := range domain.AllApplicationStatuses {
		for _, to := range domain.AllApplicationStatuses {
			if !domain.CanTransition(from, to, domain.ActorReviewer) && !domain.CanTransition(from, to, domain.ActorSystem) {
				continue
			}
			if v := getCounterValue(m.transitions, string(from), string(to)); v > 0 {
				snap.Transitions[string(from)+"->"+string(to)] = v
			}
		}
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return counterValue(cv.WithLabelValues(labels...))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every child of cv.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := 0.0
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
