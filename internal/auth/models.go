// Package auth orchestrates the login flow: OTP verification, subject
// resolution, trust evaluation, and session token minting. It also owns the
// audit trail for authentication events.
package auth

import "fieldsync/pkg/domain"

// LoginStatus is the caller-facing result of a login attempt.
type LoginStatus string

const (
	// StatusGranted means the session token is ready to use.
	StatusGranted LoginStatus = "granted"
	// StatusChallenge means the client must answer the knowledge challenge
	// for the returned decision before a token is minted.
	StatusChallenge LoginStatus = "challenge"
	// StatusFallback means automated login is off the table; a human
	// reviews the attempt.
	StatusFallback LoginStatus = "human_fallback"
)

// LoginResult reports how a verified OTP login concluded.
type LoginResult struct {
	Status     LoginStatus
	Subject    domain.SubjectID
	DecisionID domain.DecisionID
	Score      int
	// Token is set only when Status is StatusGranted.
	Token string
}
