package otp

import (
	"context"
	"time"

	"fieldsync/pkg/domain"
)

// ChallengeStore persists challenges keyed by phone.
//
// Error contract: Get returns a wrapped sentinel.ErrNotFound when no challenge
// exists for the phone. Implementations must serialize writes per phone so the
// single-active-challenge invariant holds under concurrent issuance.
type ChallengeStore interface {
	// Replace atomically deletes any existing challenge rows for the phone
	// and persists the new one (invalidation-on-reissue).
	Replace(ctx context.Context, challenge *Challenge) error

	// Get returns the current challenge for the phone.
	Get(ctx context.Context, phone domain.Phone) (*Challenge, error)

	// Consume atomically marks the phone's challenge verified, but only if it
	// is still unverified and its stored hash matches codeHash. Returns a
	// wrapped sentinel.ErrAlreadyUsed when the challenge was verified
	// already, and a wrapped sentinel.ErrNotFound when none exists or a
	// concurrent reissue replaced it. The consumed row stays until its TTL so
	// a replayed code is rejected as already used rather than
	// indistinguishable from never-issued in the store (the service still
	// reports both to callers as the same generic failure).
	Consume(ctx context.Context, phone domain.Phone, codeHash string) error

	// IncrIssued counts an issuance against the phone's rate window and
	// returns the running total within that window.
	IncrIssued(ctx context.Context, phone domain.Phone, window time.Duration) (int, error)
}
