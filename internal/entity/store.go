package entity

import (
	"context"
	"time"
)

// Store persists authoritative entity state.
//
// Error contract: Get returns wrapped sentinel.ErrNotFound for unknown
// entities. Commit returns wrapped sentinel.ErrStaleBase when baseVersion does
// not match the current version; implementations must make the
// compare-and-commit atomic.
type Store interface {
	Get(ctx context.Context, entityType, entityID string) (*State, error)

	// Commit applies payload on top of baseVersion and returns the new
	// state. baseVersion 0 with no existing row creates version 1.
	Commit(ctx context.Context, req CommitRequest, at time.Time) (*State, error)
}
