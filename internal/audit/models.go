package audit

import (
	"time"

	"github.com/google/uuid"

	"fieldsync/pkg/domain"
)

// Event is emitted from domain logic to capture authentication decisions and
// sync anomalies. Keep it transport-agnostic so stores and sinks can fan out.
// Events are append-only: corrections are modeled as new events, never edits.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	// Subject is a loose reference: a subject may not exist yet (first-time
	// enrollment), in which case it is the zero value.
	Subject   domain.SubjectID
	Phone     string // masked, never the raw number
	Action    string
	Decision  string
	Reason    string
	IP        string
	RequestID string
	Metadata  map[string]any
}

// Actions recorded by the core. Kept as plain strings in the Event so sinks
// do not need this package's constants to deserialize.
const (
	ActionOTPIssued        = "otp_issued"
	ActionOTPVerified      = "otp_verified"
	ActionOTPVerifyFailed  = "otp_verify_failed"
	ActionOTPThrottled     = "otp_throttled"
	ActionDecisionMade     = "decision_made"
	ActionOutcomeRecorded  = "outcome_recorded"
	ActionChallengePassed  = "challenge_passed"
	ActionChallengeFailed  = "challenge_failed"
	ActionRiskEventRaised  = "risk_event_raised"
	ActionMutationSynced   = "mutation_synced"
	ActionMutationConflict = "mutation_conflict"
	ActionMutationFailed   = "mutation_failed"
)
