// Package memory provides the in-memory entity store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/entity"
	"fieldsync/pkg/platform/sentinel"
)

type key struct {
	entityType string
	entityID   string
}

// InMemoryStore keeps entity state in a map. The single mutex makes the
// compare-and-commit atomic.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[key]*entity.State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[key]*entity.State)}
}

func (s *InMemoryStore) Get(_ context.Context, entityType, entityID string) (*entity.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key{entityType, entityID}]
	if !ok {
		return nil, fmt.Errorf("entity %s/%s: %w", entityType, entityID, sentinel.ErrNotFound)
	}
	return copyState(state), nil
}

func (s *InMemoryStore) Commit(_ context.Context, req entity.CommitRequest, at time.Time) (*entity.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{req.EntityType, req.EntityID}
	current, exists := s.states[k]

	var currentVersion int64
	if exists {
		currentVersion = current.Version
	}
	if req.BaseVersion != currentVersion {
		return nil, fmt.Errorf("entity %s/%s at version %d, base %d: %w",
			req.EntityType, req.EntityID, currentVersion, req.BaseVersion, sentinel.ErrStaleBase)
	}

	next := &entity.State{
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Version:      currentVersion + 1,
		Payload:      copyPayload(req.Payload),
		LastMutation: req.MutationID,
		UpdatedAt:    at,
	}
	s.states[k] = next
	return copyState(next), nil
}

// Seed inserts a state directly. Test helper.
func (s *InMemoryStore) Seed(state *entity.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key{state.EntityType, state.EntityID}] = copyState(state)
}

func copyState(state *entity.State) *entity.State {
	cp := *state
	cp.Payload = copyPayload(state.Payload)
	return &cp
}

func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
