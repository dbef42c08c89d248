package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the drain loop. All methods are nil-safe
// so wiring stays optional in tests.
type Metrics struct {
	Synced     *prometheus.CounterVec
	Conflicts  *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	Retries    prometheus.Counter
	Resets     prometheus.Counter
	DrainRuns  prometheus.Counter
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics creates and registers sync metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Synced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_sync_mutations_synced_total",
			Help: "Mutations committed successfully, by entity type",
		}, []string{"entity_type"}),
		Conflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_sync_conflicts_total",
			Help: "Stale-base conflicts encountered, by entity type and resolution",
		}, []string{"entity_type", "resolution"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_sync_mutations_failed_total",
			Help: "Mutations that exhausted their retries, by entity type",
		}, []string{"entity_type"}),
		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_sync_retries_total",
			Help: "Transient commit failures scheduled for retry",
		}),
		Resets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_sync_inflight_resets_total",
			Help: "Mutations reset from syncing to pending at startup",
		}),
		DrainRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_sync_drain_runs_total",
			Help: "Drain cycles executed",
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldsync_sync_queue_depth",
			Help: "Mutations currently queued, by state",
		}, []string{"state"}),
	}
}

func (m *Metrics) IncSynced(entityType string) {
	if m != nil {
		m.Synced.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) IncConflict(entityType, resolution string) {
	if m != nil {
		m.Conflicts.WithLabelValues(entityType, resolution).Inc()
	}
}

func (m *Metrics) IncFailed(entityType string) {
	if m != nil {
		m.Failed.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) IncRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) AddResets(n int) {
	if m != nil {
		m.Resets.Add(float64(n))
	}
}

func (m *Metrics) IncDrainRun() {
	if m != nil {
		m.DrainRuns.Inc()
	}
}

func (m *Metrics) SetQueueDepth(state SyncState, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(string(state)).Set(float64(depth))
	}
}
