// Package postgres persists authoritative entity state with optimistic
// version checks.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/entity"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the entity_states table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entity_states (
			entity_type   TEXT NOT NULL,
			entity_id     TEXT NOT NULL,
			version       BIGINT NOT NULL,
			payload       JSONB NOT NULL DEFAULT '{}',
			last_mutation UUID NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate entity_states: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, entityType, entityID string) (*entity.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, payload, last_mutation, updated_at
		FROM entity_states WHERE entity_type = $1 AND entity_id = $2
	`, entityType, entityID)

	var (
		state        entity.State
		payload      []byte
		lastMutation uuid.UUID
	)
	err := row.Scan(&state.Version, &payload, &lastMutation, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s/%s: %w", entityType, entityID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity state: %w", err)
	}

	state.EntityType = entityType
	state.EntityID = entityID
	state.LastMutation = domain.MutationID(lastMutation)
	if err := json.Unmarshal(payload, &state.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal entity payload: %w", err)
	}
	return &state, nil
}

// Commit performs the version check and write in a single guarded statement,
// so concurrent commits against the same base cannot both pass.
func (s *Store) Commit(ctx context.Context, req entity.CommitRequest, at time.Time) (*entity.State, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal entity payload: %w", err)
	}
	if req.Payload == nil {
		payload = []byte("{}")
	}

	var version int64
	if req.BaseVersion == 0 {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO entity_states (entity_type, entity_id, version, payload, last_mutation, updated_at)
			VALUES ($1, $2, 1, $3, $4, $5)
			ON CONFLICT (entity_type, entity_id) DO NOTHING
			RETURNING version
		`, req.EntityType, req.EntityID, payload, uuid.UUID(req.MutationID), at).Scan(&version)
	} else {
		err = s.db.QueryRowContext(ctx, `
			UPDATE entity_states
			SET version = version + 1, payload = $4, last_mutation = $5, updated_at = $6
			WHERE entity_type = $1 AND entity_id = $2 AND version = $3
			RETURNING version
		`, req.EntityType, req.EntityID, req.BaseVersion, payload, uuid.UUID(req.MutationID), at).Scan(&version)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s/%s base %d: %w",
			req.EntityType, req.EntityID, req.BaseVersion, sentinel.ErrStaleBase)
	}
	if err != nil {
		return nil, fmt.Errorf("commit entity state: %w", err)
	}

	return &entity.State{
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Version:      version,
		Payload:      req.Payload,
		LastMutation: req.MutationID,
		UpdatedAt:    at,
	}, nil
}
