// Package sqlite is the durable on-device mutation queue. The agent's queue
// must survive process restarts and power loss, so every state transition is
// written through before the drain moves on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fieldsync/internal/syncer"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// Store implements the mutation queue on modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the queue database at path and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite exec %s: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS mutation_queue (
	id           TEXT PRIMARY KEY,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	base_version INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mutation_queue_state ON mutation_queue(state, entity_type, created_at);
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, m *syncer.QueuedMutation) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue
			(id, entity_type, entity_id, base_version, payload, state, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID.String(), m.EntityType, m.EntityID, m.BaseVersion, string(payload),
		string(m.State), m.Attempts, m.LastError, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("enqueue mutation: %w", err)
	}
	return nil
}

const selectColumns = `id, entity_type, entity_id, base_version, payload, state, attempts, last_error, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id domain.MutationID) (*syncer.QueuedMutation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM mutation_queue WHERE id = ?`, id.String())
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mutation %s: %w", id, sentinel.ErrNotFound)
	}
	return m, err
}

// NextPending returns the oldest pending mutation for the entity type. rowid
// breaks created_at ties so insertion order is strict.
func (s *Store) NextPending(ctx context.Context, entityType string) (*syncer.QueuedMutation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM mutation_queue
		WHERE state = 'pending' AND entity_type = ?
		ORDER BY created_at, rowid LIMIT 1
	`, entityType)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending mutation for %s: %w", entityType, sentinel.ErrNotFound)
	}
	return m, err
}

func (s *Store) EntityTypesWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_type FROM mutation_queue WHERE state = 'pending' ORDER BY entity_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending entity types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan entity type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Claim is a conditional update: it only succeeds from the pending state, so
// a double-claim surfaces as ErrInvalidState instead of silently racing.
func (s *Store) Claim(ctx context.Context, id domain.MutationID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue SET state = 'syncing', updated_at = ?
		WHERE id = ? AND state = 'pending'
	`, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("claim mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim mutation rows: %w", err)
	}
	if affected == 0 {
		var state string
		err := s.db.QueryRowContext(ctx,
			`SELECT state FROM mutation_queue WHERE id = ?`, id.String()).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("mutation %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check mutation state: %w", err)
		}
		return fmt.Errorf("mutation %s in state %s: %w", id, state, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, m *syncer.QueuedMutation) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue
		SET base_version = ?, payload = ?, state = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, m.BaseVersion, string(payload), string(m.State), m.Attempts, m.LastError,
		m.UpdatedAt.UTC(), m.ID.String())
	if err != nil {
		return fmt.Errorf("update mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mutation rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mutation %s: %w", m.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) ResetInFlight(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue SET state = 'pending', updated_at = ?
		WHERE state = 'syncing'
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset in-flight mutations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset in-flight rows: %w", err)
	}
	return int(affected), nil
}

func (s *Store) List(ctx context.Context, state syncer.SyncState, limit int) ([]*syncer.QueuedMutation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM mutation_queue
		WHERE state = ? ORDER BY created_at, rowid LIMIT ?
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var out []*syncer.QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(row scanner) (*syncer.QueuedMutation, error) {
	var (
		m       syncer.QueuedMutation
		rawID   string
		payload string
		state   string
	)
	err := row.Scan(&rawID, &m.EntityType, &m.EntityID, &m.BaseVersion, &payload,
		&state, &m.Attempts, &m.LastError, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse mutation id: %w", err)
	}
	m.ID = domain.MutationID(id)
	m.State = syncer.SyncState(state)
	if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &m, nil
}
