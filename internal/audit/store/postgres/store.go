package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fieldsync/internal/audit"
	"fieldsync/pkg/domain"
)

// Store persists audit events in the audit_events table. Append-only by
// construction: no UPDATE or DELETE statements exist in this package.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit_events table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         UUID PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			subject_id UUID,
			phone      TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL,
			decision   TEXT NOT NULL DEFAULT '',
			reason     TEXT NOT NULL DEFAULT '',
			ip         TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			metadata   JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events(subject_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events(ts DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var meta []byte
	if event.Metadata != nil {
		var err error
		meta, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	var subject any
	if !event.Subject.IsNil() {
		subject = uuid.UUID(event.Subject)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, ts, subject_id, phone, action, decision, reason, ip, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Timestamp, subject, event.Phone, event.Action,
		event.Decision, event.Reason, event.IP, event.RequestID, meta)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, subject_id, phone, action, decision, reason, ip, request_id, metadata
		FROM audit_events WHERE subject_id = $1 ORDER BY ts DESC
	`, uuid.UUID(subject))
	if err != nil {
		return nil, fmt.Errorf("list audit events by subject: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, subject_id, phone, action, decision, reason, ip, request_id, metadata
		FROM audit_events ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			subject uuid.NullUUID
			meta    []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &subject, &e.Phone, &e.Action,
			&e.Decision, &e.Reason, &e.IP, &e.RequestID, &meta); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if subject.Valid {
			e.Subject = domain.SubjectID(subject.UUID)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
