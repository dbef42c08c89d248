// Package entity holds the server's authoritative versioned state for synced
// business entities. The schema of an entity's payload is owned by upstream
// services; this layer cares only about versions and stale-base detection.
package entity

import (
	"time"

	"fieldsync/pkg/domain"
)

// State is one entity's authoritative server copy. Version increments by one
// on every accepted commit; clients carry the version they last saw as the
// base for their next mutation.
type State struct {
	EntityType string
	EntityID   string
	Version    int64
	Payload    map[string]any
	// LastMutation is the client mutation that produced this version. A
	// replay of the same mutation is answered idempotently instead of being
	// reported as a stale base.
	LastMutation domain.MutationID
	UpdatedAt    time.Time
}

// CommitRequest asks to advance an entity from BaseVersion to BaseVersion+1.
// BaseVersion 0 creates the entity.
type CommitRequest struct {
	EntityType  string
	EntityID    string
	BaseVersion int64
	Payload     map[string]any
	MutationID  domain.MutationID
}

// CommitResult reports a commit. When Conflict is true the commit was rejected
// on a stale base and State carries the current server copy for resolution.
type CommitResult struct {
	State    *State
	Conflict bool
}
