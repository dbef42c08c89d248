package audit

import (
	"context"

	"fieldsync/pkg/domain"
)

// Store persists audit events. Append-only: there is deliberately no update or
// delete operation on this interface.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
