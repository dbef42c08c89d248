// Package trust scores login attempts from contextual signals and decides how
// much friction to apply: let the agent straight in, escalate to a knowledge
// challenge, or hand off to a human.
package trust

import (
	"time"

	"fieldsync/pkg/domain"
)

// DecisionKind is the action the engine selects for a login attempt.
type DecisionKind string

const (
	DecisionDirectAccess  DecisionKind = "direct_access"
	DecisionChallenge     DecisionKind = "challenge"
	DecisionHumanFallback DecisionKind = "human_fallback"
)

// Outcome is the eventual result of a decision, recorded once after the login
// flow concludes.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

// Valid reports whether the outcome is one a caller may record.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeAbandoned:
		return true
	}
	return false
}

// Factors are the boolean and continuous signals the engine scores. The struct
// is closed: adding a signal means adding a field and a weight, not a map key.
type Factors struct {
	DeviceKnown        bool
	GeoMatch           bool
	TimeMatch          bool
	ExternalConfidence float64 // [0,1], clamped by the engine
}

// AuthDecision is the persisted record of one evaluation. Exactly one is
// written per evaluation, before the result is returned. Outcome is the only
// field that may change afterwards, and only once.
type AuthDecision struct {
	ID      domain.DecisionID
	Subject domain.SubjectID

	Factors  Factors
	Score    int
	Decision DecisionKind

	// Fingerprint and Region capture the request context so a successful
	// outcome can feed the subject's history.
	Fingerprint string
	Region      string

	Outcome           Outcome
	OutcomeAt         *time.Time
	ChallengeAttempts int

	CreatedAt time.Time
}

// RiskKind classifies an anomaly observed during evaluation or sync.
type RiskKind string

const (
	RiskNewDevice         RiskKind = "new_device"
	RiskUnusualLocation   RiskKind = "unusual_location"
	RiskUnusualTime       RiskKind = "unusual_time"
	RiskRepeatedFailures  RiskKind = "repeated_failures"
	RiskSuspiciousPattern RiskKind = "suspicious_pattern"
	RiskHighAmount        RiskKind = "high_amount"
)

// Severity grades a risk event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskEvent is an append-only anomaly record. Events are never updated,
// deleted, or merged; two anomalies in one evaluation produce two events.
type RiskEvent struct {
	ID       domain.RiskEventID
	Subject  domain.SubjectID
	Decision domain.DecisionID
	Kind     RiskKind
	Severity Severity
	Details  map[string]any

	CreatedAt time.Time
}

// SubjectHistory is what the service knows about a subject's past successful
// logins. It backs the DeviceKnown, GeoMatch, and TimeMatch factors.
type SubjectHistory struct {
	Subject      domain.SubjectID
	Fingerprints []string
	Regions      []string
	ActiveHours  [24]bool
	UpdatedAt    time.Time
}

// DeviceSeen reports whether the fingerprint matches a past login.
func (h *SubjectHistory) DeviceSeen(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	for _, fp := range h.Fingerprints {
		if fp == fingerprint {
			return true
		}
	}
	return false
}

// RegionSeen reports whether the region matches a past login.
func (h *SubjectHistory) RegionSeen(region string) bool {
	if region == "" {
		return false
	}
	for _, r := range h.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// HourTypical reports whether the subject has logged in at this hour before.
func (h *SubjectHistory) HourTypical(hour int) bool {
	if hour < 0 || hour > 23 {
		return false
	}
	return h.ActiveHours[hour]
}

// EvaluateRequest carries one login attempt's context into the service.
type EvaluateRequest struct {
	Subject            domain.SubjectID
	DeviceFingerprint  string
	Region             string
	ExternalConfidence float64
}
