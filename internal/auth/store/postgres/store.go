// Package postgres persists phone enrollments.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// Migrate creates the subjects table if missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subjects (
			id         UUID PRIMARY KEY,
			phone      TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate subjects table: %w", err)
	}
	return nil
}

// SubjectStore maps phones to enrolled subjects. Enrollment races resolve to
// the row that won the unique-index insert.
type SubjectStore struct {
	db *sql.DB
}

func NewSubjectStore(db *sql.DB) *SubjectStore {
	return &SubjectStore{db: db}
}

func (s *SubjectStore) FindByPhone(ctx context.Context, phone domain.Phone) (domain.SubjectID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM subjects WHERE phone = $1`, phone.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SubjectID{}, fmt.Errorf("subject for phone: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return domain.SubjectID{}, fmt.Errorf("find subject: %w", err)
	}
	return domain.SubjectID(id), nil
}

func (s *SubjectStore) Enroll(ctx context.Context, phone domain.Phone) (domain.SubjectID, error) {
	candidate := domain.NewSubjectID()
	var id uuid.UUID
	// ON CONFLICT with a no-op update makes RETURNING yield the existing row,
	// so a concurrent enrollment of the same phone converges on one subject.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subjects (id, phone, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id
	`, uuid.UUID(candidate), phone.String(), time.Now().UTC()).Scan(&id)
	if err != nil {
		return domain.SubjectID{}, fmt.Errorf("enroll subject: %w", err)
	}
	return domain.SubjectID(id), nil
}
