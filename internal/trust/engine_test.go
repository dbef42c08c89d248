package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_DefaultWeights(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name    string
		factors Factors
		want    int
	}{
		{
			name:    "all signals positive",
			factors: Factors{DeviceKnown: true, GeoMatch: true, TimeMatch: true, ExternalConfidence: 1},
			want:    100,
		},
		{
			name:    "nothing matches",
			factors: Factors{},
			want:    0,
		},
		{
			name:    "known device alone",
			factors: Factors{DeviceKnown: true},
			want:    40,
		},
		{
			name:    "everything but the device",
			factors: Factors{GeoMatch: true, TimeMatch: true, ExternalConfidence: 1},
			want:    60,
		},
		{
			name:    "device and geo",
			factors: Factors{DeviceKnown: true, GeoMatch: true},
			want:    65,
		},
		{
			name:    "device, geo, and half external confidence",
			factors: Factors{DeviceKnown: true, GeoMatch: true, ExternalConfidence: 0.5},
			want:    75,
		},
		{
			name:    "external confidence clamped above one",
			factors: Factors{ExternalConfidence: 3.0},
			want:    20,
		},
		{
			name:    "external confidence clamped below zero",
			factors: Factors{DeviceKnown: true, ExternalConfidence: -1},
			want:    40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.factors, w))
		})
	}
}

func TestScore_CustomWeightsNormalize(t *testing.T) {
	w := Weights{Device: 80, Geo: 50, Time: 30, External: 40}
	got := Score(Factors{DeviceKnown: true}, w)
	assert.Equal(t, 40, got, "80 of 200 normalizes to 40")
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  DecisionKind
	}{
		{score: 0, want: DecisionHumanFallback},
		{score: 39, want: DecisionHumanFallback},
		{score: 40, want: DecisionChallenge},
		{score: 69, want: DecisionChallenge},
		{score: 70, want: DecisionDirectAccess},
		{score: 100, want: DecisionDirectAccess},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.score), "score %d", tt.score)
	}
}

func TestUnknownDeviceNeverReachesDirectAccess(t *testing.T) {
	// With the default weights the device factor is worth 40, so the best an
	// unknown device can score is 60.
	best := Factors{GeoMatch: true, TimeMatch: true, ExternalConfidence: 1}
	score := Score(best, DefaultWeights())
	assert.Equal(t, 60, score)
	assert.Equal(t, DecisionChallenge, Decide(score))
}

func TestDeriveRiskEvents(t *testing.T) {
	t.Run("unknown device at low score is high severity", func(t *testing.T) {
		events := DeriveRiskEvents(Factors{}, 20)
		kinds := map[RiskKind]Severity{}
		for _, e := range events {
			kinds[e.Kind] = e.Severity
		}
		assert.Equal(t, SeverityHigh, kinds[RiskNewDevice])
		assert.Equal(t, SeverityHigh, kinds[RiskUnusualLocation])
		assert.Equal(t, SeverityMedium, kinds[RiskUnusualTime])
		assert.Len(t, events, 3, "each anomaly is its own event")
	})

	t.Run("unknown device at mid score is medium severity", func(t *testing.T) {
		events := DeriveRiskEvents(Factors{GeoMatch: true, TimeMatch: true, ExternalConfidence: 1}, 60)
		assert.Len(t, events, 1)
		assert.Equal(t, RiskNewDevice, events[0].Kind)
		assert.Equal(t, SeverityMedium, events[0].Severity)
	})

	t.Run("geo mismatch above fifty raises nothing", func(t *testing.T) {
		events := DeriveRiskEvents(Factors{DeviceKnown: true, TimeMatch: true}, 55)
		assert.Empty(t, events)
	})

	t.Run("all signals positive raises nothing", func(t *testing.T) {
		events := DeriveRiskEvents(Factors{DeviceKnown: true, GeoMatch: true, TimeMatch: true}, 100)
		assert.Empty(t, events)
	})
}
