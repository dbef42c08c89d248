package trust

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for trust evaluation. All methods are
// nil-safe so wiring stays optional in tests.
type Metrics struct {
	Evaluations      *prometheus.CounterVec
	Scores           prometheus.Histogram
	RiskEvents       *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	ChallengeAnswers *prometheus.CounterVec
}

// NewMetrics creates and registers trust metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_trust_evaluations_total",
			Help: "Trust evaluations, by resulting decision",
		}, []string{"decision"}),
		Scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldsync_trust_score",
			Help:    "Distribution of computed trust scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		RiskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_trust_risk_events_total",
			Help: "Risk events raised, by kind and severity",
		}, []string{"kind", "severity"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_trust_outcomes_total",
			Help: "Decision outcomes recorded, by outcome",
		}, []string{"outcome"}),
		ChallengeAnswers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_trust_challenge_answers_total",
			Help: "Knowledge challenge answers, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncEvaluation(decision DecisionKind) {
	if m != nil {
		m.Evaluations.WithLabelValues(string(decision)).Inc()
	}
}

func (m *Metrics) ObserveScore(score int) {
	if m != nil {
		m.Scores.Observe(float64(score))
	}
}

func (m *Metrics) IncRiskEvent(kind RiskKind, severity Severity) {
	if m != nil {
		m.RiskEvents.WithLabelValues(string(kind), string(severity)).Inc()
	}
}

func (m *Metrics) IncOutcome(outcome Outcome) {
	if m != nil {
		m.Outcomes.WithLabelValues(string(outcome)).Inc()
	}
}

func (m *Metrics) IncChallengeAnswer(result string) {
	if m != nil {
		m.ChallengeAnswers.WithLabelValues(result).Inc()
	}
}
