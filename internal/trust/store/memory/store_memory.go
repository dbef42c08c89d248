// Package memory provides in-memory trust stores for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/trust"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// InMemoryDecisionStore keeps decisions in a map guarded by a single mutex.
type InMemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[domain.DecisionID]*trust.AuthDecision
}

func NewInMemoryDecisionStore() *InMemoryDecisionStore {
	return &InMemoryDecisionStore{decisions: make(map[domain.DecisionID]*trust.AuthDecision)}
}

func (s *InMemoryDecisionStore) Create(_ context.Context, decision *trust.AuthDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[decision.ID]; ok {
		return fmt.Errorf("decision %s: %w", decision.ID, sentinel.ErrConflict)
	}
	cp := *decision
	s.decisions[decision.ID] = &cp
	return nil
}

func (s *InMemoryDecisionStore) Get(_ context.Context, id domain.DecisionID) (*trust.AuthDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	decision, ok := s.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *decision
	return &cp, nil
}

func (s *InMemoryDecisionStore) SetOutcome(_ context.Context, id domain.DecisionID, outcome trust.Outcome, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[id]
	if !ok {
		return false, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
	}
	if decision.Outcome != trust.OutcomePending {
		return false, nil
	}
	decision.Outcome = outcome
	decision.OutcomeAt = &at
	return true, nil
}

func (s *InMemoryDecisionStore) IncChallengeAttempts(_ context.Context, id domain.DecisionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[id]
	if !ok {
		return 0, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
	}
	decision.ChallengeAttempts++
	return decision.ChallengeAttempts, nil
}

// InMemoryRiskStore is an append-only slice of risk events.
type InMemoryRiskStore struct {
	mu     sync.RWMutex
	events []*trust.RiskEvent
}

func NewInMemoryRiskStore() *InMemoryRiskStore {
	return &InMemoryRiskStore{}
}

func (s *InMemoryRiskStore) Append(_ context.Context, event *trust.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *InMemoryRiskStore) ListBySubject(_ context.Context, subject domain.SubjectID, limit int) ([]*trust.RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*trust.RiskEvent
	for _, event := range s.events {
		if event.Subject == subject {
			cp := *event
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every appended event. Test helper.
func (s *InMemoryRiskStore) All() []*trust.RiskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*trust.RiskEvent, len(s.events))
	copy(out, s.events)
	return out
}

// InMemoryHistoryStore tracks per-subject login history.
type InMemoryHistoryStore struct {
	mu        sync.RWMutex
	histories map[domain.SubjectID]*trust.SubjectHistory
}

func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{histories: make(map[domain.SubjectID]*trust.SubjectHistory)}
}

func (s *InMemoryHistoryStore) Get(_ context.Context, subject domain.SubjectID) (*trust.SubjectHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.histories[subject]
	if !ok {
		return nil, fmt.Errorf("history for subject %s: %w", subject, sentinel.ErrNotFound)
	}
	cp := *history
	cp.Fingerprints = append([]string(nil), history.Fingerprints...)
	cp.Regions = append([]string(nil), history.Regions...)
	return &cp, nil
}

func (s *InMemoryHistoryStore) RecordObservation(_ context.Context, subject domain.SubjectID, fingerprint, region string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.histories[subject]
	if !ok {
		history = &trust.SubjectHistory{Subject: subject}
		s.histories[subject] = history
	}
	if fingerprint != "" && !history.DeviceSeen(fingerprint) {
		history.Fingerprints = append(history.Fingerprints, fingerprint)
	}
	if region != "" && !history.RegionSeen(region) {
		history.Regions = append(history.Regions, region)
	}
	history.ActiveHours[at.Hour()] = true
	history.UpdatedAt = at
	return nil
}

// InMemoryQuestionStore keeps knowledge-answer hashes.
type InMemoryQuestionStore struct {
	mu     sync.RWMutex
	hashes map[domain.SubjectID][]byte
}

func NewInMemoryQuestionStore() *InMemoryQuestionStore {
	return &InMemoryQuestionStore{hashes: make(map[domain.SubjectID][]byte)}
}

func (s *InMemoryQuestionStore) AnswerHash(_ context.Context, subject domain.SubjectID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.hashes[subject]
	if !ok {
		return nil, fmt.Errorf("question for subject %s: %w", subject, sentinel.ErrNotFound)
	}
	return append([]byte(nil), hash...), nil
}

func (s *InMemoryQuestionStore) SetAnswer(_ context.Context, subject domain.SubjectID, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[subject] = append([]byte(nil), hash...)
	return nil
}
