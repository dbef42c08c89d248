package trust

import "math"

// Decision boundaries on the 0-100 score. These are fixed; tuning happens
// through the factor weights, not by moving the boundaries.
const (
	directAccessThreshold = 70
	challengeThreshold    = 40
)

// Weights assigns each factor's contribution to the score. With the defaults
// the raw sum is already on the 0-100 scale; custom weights are normalized.
type Weights struct {
	Device   int
	Geo      int
	Time     int
	External int
}

// DefaultWeights keeps the device factor heavy enough that an unknown device
// can never reach direct access on the remaining factors alone.
func DefaultWeights() Weights {
	return Weights{Device: 40, Geo: 25, Time: 15, External: 20}
}

func (w Weights) total() int {
	return w.Device + w.Geo + w.Time + w.External
}

// Score computes the trust score for the given factors, normalized to 0-100.
// Pure domain logic, no I/O.
func Score(f Factors, w Weights) int {
	total := w.total()
	if total <= 0 {
		return 0
	}

	confidence := f.ExternalConfidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	raw := 0.0
	if f.DeviceKnown {
		raw += float64(w.Device)
	}
	if f.GeoMatch {
		raw += float64(w.Geo)
	}
	if f.TimeMatch {
		raw += float64(w.Time)
	}
	raw += confidence * float64(w.External)

	return int(math.Round(raw * 100 / float64(total)))
}

// Decide maps a score to the access decision.
func Decide(score int) DecisionKind {
	switch {
	case score >= directAccessThreshold:
		return DecisionDirectAccess
	case score >= challengeThreshold:
		return DecisionChallenge
	default:
		return DecisionHumanFallback
	}
}

// DeriveRiskEvents lists the anomalies implied by the factors and score. Each
// anomaly becomes its own event; they are never collapsed into one. Pure
// domain logic, no I/O.
func DeriveRiskEvents(f Factors, score int) []RiskEvent {
	var events []RiskEvent

	if !f.DeviceKnown {
		severity := SeverityMedium
		if score < challengeThreshold {
			severity = SeverityHigh
		}
		events = append(events, RiskEvent{Kind: RiskNewDevice, Severity: severity})
	}
	if !f.GeoMatch && score < 50 {
		events = append(events, RiskEvent{Kind: RiskUnusualLocation, Severity: SeverityHigh})
	}
	if !f.TimeMatch && score < challengeThreshold {
		events = append(events, RiskEvent{Kind: RiskUnusualTime, Severity: SeverityMedium})
	}

	return events
}
