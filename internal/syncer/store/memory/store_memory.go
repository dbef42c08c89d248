// Package memory provides the in-memory mutation queue for coordinator tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fieldsync/internal/syncer"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// InMemoryStore keeps the queue in a slice ordered by insertion, which gives
// FIFO per entity type for free.
type InMemoryStore struct {
	mu        sync.RWMutex
	mutations []*syncer.QueuedMutation
	byID      map[domain.MutationID]*syncer.QueuedMutation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[domain.MutationID]*syncer.QueuedMutation)}
}

func (s *InMemoryStore) Enqueue(_ context.Context, m *syncer.QueuedMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return fmt.Errorf("mutation %s: %w", m.ID, sentinel.ErrConflict)
	}
	cp := copyMutation(m)
	s.mutations = append(s.mutations, cp)
	s.byID[m.ID] = cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.MutationID) (*syncer.QueuedMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("mutation %s: %w", id, sentinel.ErrNotFound)
	}
	return copyMutation(m), nil
}

func (s *InMemoryStore) NextPending(_ context.Context, entityType string) (*syncer.QueuedMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mutations {
		if m.EntityType == entityType && m.State == syncer.StatePending {
			return copyMutation(m), nil
		}
	}
	return nil, fmt.Errorf("pending mutation for %s: %w", entityType, sentinel.ErrNotFound)
}

func (s *InMemoryStore) EntityTypesWithPending(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var types []string
	for _, m := range s.mutations {
		if m.State == syncer.StatePending && !seen[m.EntityType] {
			seen[m.EntityType] = true
			types = append(types, m.EntityType)
		}
	}
	sort.Strings(types)
	return types, nil
}

func (s *InMemoryStore) Claim(_ context.Context, id domain.MutationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("mutation %s: %w", id, sentinel.ErrNotFound)
	}
	if m.State != syncer.StatePending {
		return fmt.Errorf("mutation %s in state %s: %w", id, m.State, sentinel.ErrInvalidState)
	}
	m.State = syncer.StateSyncing
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, m *syncer.QueuedMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[m.ID]
	if !ok {
		return fmt.Errorf("mutation %s: %w", m.ID, sentinel.ErrNotFound)
	}
	*stored = *copyMutation(m)
	return nil
}

func (s *InMemoryStore) ResetInFlight(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := 0
	for _, m := range s.mutations {
		if m.State == syncer.StateSyncing {
			m.State = syncer.StatePending
			reset++
		}
	}
	return reset, nil
}

func (s *InMemoryStore) List(_ context.Context, state syncer.SyncState, limit int) ([]*syncer.QueuedMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*syncer.QueuedMutation
	for _, m := range s.mutations {
		if m.State == state {
			out = append(out, copyMutation(m))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func copyMutation(m *syncer.QueuedMutation) *syncer.QueuedMutation {
	cp := *m
	if m.Payload != nil {
		cp.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
