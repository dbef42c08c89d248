package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline. All methods are
// nil-safe so wiring stays optional in tests.
type Metrics struct {
	Persisted     *prometheus.CounterVec
	Dropped       prometheus.Counter
	StoreFailures prometheus.Counter
	SinkFailures  prometheus.Counter
}

// NewMetrics creates and registers audit pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Persisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_audit_events_persisted_total",
			Help: "Audit events successfully persisted, by action",
		}, []string{"action"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_audit_events_dropped_total",
			Help: "Audit events dropped due to buffer overflow",
		}),
		StoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_audit_store_failures_total",
			Help: "Audit store append failures routed to the fallback channel",
		}),
		SinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_audit_sink_failures_total",
			Help: "Audit sink delivery failures (e.g. Kafka)",
		}),
	}
}

func (m *Metrics) IncPersisted(action string) {
	if m != nil {
		m.Persisted.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) IncStoreFailure() {
	if m != nil {
		m.StoreFailures.Inc()
	}
}

func (m *Metrics) IncSinkFailure() {
	if m != nil {
		m.SinkFailures.Inc()
	}
}
