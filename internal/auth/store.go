package auth

import (
	"context"

	"fieldsync/pkg/domain"
)

// SubjectStore maps phone numbers to enrolled subjects.
//
// Error contract: FindByPhone returns wrapped sentinel.ErrNotFound for a
// phone with no enrollment.
type SubjectStore interface {
	FindByPhone(ctx context.Context, phone domain.Phone) (domain.SubjectID, error)

	// Enroll creates the subject for the phone, or returns the existing one
	// if a concurrent login got there first.
	Enroll(ctx context.Context, phone domain.Phone) (domain.SubjectID, error)
}
