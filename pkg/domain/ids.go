// Package domain holds shared identifier and value types used across the core.
//
// IDs are distinct uuid-backed types so the compiler rejects cross-wiring
// (e.g. passing a MutationID where a DecisionID is expected). Parse helpers
// enforce the invariant that IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "fieldsync/pkg/domain-errors"
)

// SubjectID identifies an enrolled subject (agent, merchant). A subject may not
// exist yet at evaluation time; callers use the zero value for first contact.
type SubjectID uuid.UUID

// DecisionID identifies a single trust evaluation record.
type DecisionID uuid.UUID

// RiskEventID identifies an append-only risk event.
type RiskEventID uuid.UUID

// MutationID identifies a queued offline mutation. It is generated on the
// client and stable across restarts so replays are idempotent.
type MutationID uuid.UUID

func (id SubjectID) String() string   { return uuid.UUID(id).String() }
func (id DecisionID) String() string  { return uuid.UUID(id).String() }
func (id RiskEventID) String() string { return uuid.UUID(id).String() }
func (id MutationID) String() string  { return uuid.UUID(id).String() }

// IsNil reports whether the subject reference is absent.
func (id SubjectID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id DecisionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MutationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewSubjectID mints a fresh subject ID at enrollment.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// NewDecisionID mints a fresh decision ID.
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }

// NewRiskEventID mints a fresh risk event ID.
func NewRiskEventID() RiskEventID { return RiskEventID(uuid.New()) }

// NewMutationID mints a fresh client-local mutation ID.
func NewMutationID() MutationID { return MutationID(uuid.New()) }

func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is empty")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is not a valid uuid")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is nil")
	}
	return u, nil
}

// ParseSubjectID validates and converts a raw string into a SubjectID.
func ParseSubjectID(raw string) (SubjectID, error) {
	u, err := parseUUID(raw, "subject")
	return SubjectID(u), err
}

// ParseDecisionID validates and converts a raw string into a DecisionID.
func ParseDecisionID(raw string) (DecisionID, error) {
	u, err := parseUUID(raw, "decision")
	return DecisionID(u), err
}

// ParseMutationID validates and converts a raw string into a MutationID.
func ParseMutationID(raw string) (MutationID, error) {
	u, err := parseUUID(raw, "mutation")
	return MutationID(u), err
}
