package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateway clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: challenge has passed its expiry
// - ErrAlreadyUsed: single-use resource (OTP challenge) already consumed
// - ErrConflict: conditional write lost to a concurrent writer
// - ErrStaleBase: a mutation's base version no longer matches the server version
// - ErrInvalidState: entity in the wrong state for the requested transition
// - ErrUnavailable: downstream service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrStaleBase    = errors.New("stale base version")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
