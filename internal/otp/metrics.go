package otp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for challenge issuance and verification. All
// methods are nil-safe so wiring stays optional in tests.
type Metrics struct {
	Issued         prometheus.Counter
	Throttled      prometheus.Counter
	DeliveryFailed prometheus.Counter
	Verified       prometheus.Counter
	VerifyFailed   *prometheus.CounterVec
}

// NewMetrics creates and registers OTP metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_otp_issued_total",
			Help: "One-time codes issued",
		}),
		Throttled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_otp_throttled_total",
			Help: "Issue requests rejected by the per-phone rate limit",
		}),
		DeliveryFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_otp_delivery_failures_total",
			Help: "SMS dispatch failures after the challenge was persisted",
		}),
		Verified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_otp_verified_total",
			Help: "Successful code verifications",
		}),
		VerifyFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_otp_verify_failures_total",
			Help: "Failed code verifications, by internal reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

func (m *Metrics) IncThrottled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

func (m *Metrics) IncDeliveryFailed() {
	if m != nil {
		m.DeliveryFailed.Inc()
	}
}

func (m *Metrics) IncVerified() {
	if m != nil {
		m.Verified.Inc()
	}
}

func (m *Metrics) IncVerifyFailed(reason string) {
	if m != nil {
		m.VerifyFailed.WithLabelValues(reason).Inc()
	}
}
