// Package memory provides an in-memory SubjectStore for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// InMemorySubjectStore keeps phone-to-subject enrollments in a map.
type InMemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[domain.Phone]domain.SubjectID
}

func NewInMemorySubjectStore() *InMemorySubjectStore {
	return &InMemorySubjectStore{subjects: make(map[domain.Phone]domain.SubjectID)}
}

func (s *InMemorySubjectStore) FindByPhone(_ context.Context, phone domain.Phone) (domain.SubjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[phone]
	if !ok {
		return domain.SubjectID{}, fmt.Errorf("subject for phone: %w", sentinel.ErrNotFound)
	}
	return subject, nil
}

func (s *InMemorySubjectStore) Enroll(_ context.Context, phone domain.Phone) (domain.SubjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subjects[phone]; ok {
		return existing, nil
	}
	subject := domain.NewSubjectID()
	s.subjects[phone] = subject
	return subject, nil
}
