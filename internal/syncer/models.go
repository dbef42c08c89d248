// Package syncer implements the field agent's offline mutation queue and the
// coordinator that drains it to the backend when connectivity allows.
package syncer

import (
	"time"

	"fieldsync/pkg/domain"
)

// SyncState is a queued mutation's position in its lifecycle.
type SyncState string

const (
	StatePending    SyncState = "pending"
	StateSyncing    SyncState = "syncing"
	StateSynced     SyncState = "synced"
	StateConflicted SyncState = "conflicted"
	StateFailed     SyncState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SyncState) Terminal() bool {
	return s == StateSynced || s == StateFailed
}

// QueuedMutation is one offline write awaiting sync. The ID is minted on the
// client and stable across restarts, so the backend can deduplicate replays.
type QueuedMutation struct {
	ID         domain.MutationID
	EntityType string
	EntityID   string
	// BaseVersion is the server version this mutation was made against.
	BaseVersion int64
	Payload     map[string]any

	State     SyncState
	Attempts  int
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommitOutcome is the backend's answer to a commit attempt.
type CommitOutcome struct {
	// Version is the authoritative version after a successful commit.
	Version int64
	// Conflict reports a stale-base rejection; ServerPayload and
	// ServerVersion carry the authoritative copy for resolution.
	Conflict      bool
	ServerPayload map[string]any
	ServerVersion int64
}
