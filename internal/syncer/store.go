package syncer

import (
	"context"

	"fieldsync/pkg/domain"
)

// Store is the durable mutation queue. Every state transition is persisted
// individually: after a crash the queue reflects exactly how far the drain
// got.
//
// Error contract: lookups return wrapped sentinel.ErrNotFound; Claim returns
// wrapped sentinel.ErrInvalidState when the mutation is not pending.
type Store interface {
	// Enqueue appends a new pending mutation.
	Enqueue(ctx context.Context, m *QueuedMutation) error

	// Get returns one mutation by ID.
	Get(ctx context.Context, id domain.MutationID) (*QueuedMutation, error)

	// NextPending returns the oldest pending mutation for the entity type,
	// or wrapped sentinel.ErrNotFound when the type's queue is drained.
	NextPending(ctx context.Context, entityType string) (*QueuedMutation, error)

	// EntityTypesWithPending lists entity types that have pending work.
	EntityTypesWithPending(ctx context.Context) ([]string, error)

	// Claim transitions pending→syncing. The transition is conditional at
	// the storage level so two drains can never claim the same mutation.
	Claim(ctx context.Context, id domain.MutationID) error

	// Update persists the mutation's current state, attempts, error text,
	// and payload (resolution rewrites the payload and base version).
	Update(ctx context.Context, m *QueuedMutation) error

	// ResetInFlight transitions all syncing mutations back to pending.
	// Called on coordinator start; returns how many were reset.
	ResetInFlight(ctx context.Context) (int, error)

	// List returns mutations in a given state, oldest first.
	List(ctx context.Context, state SyncState, limit int) ([]*QueuedMutation, error)
}
