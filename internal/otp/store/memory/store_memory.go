package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/otp"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// InMemoryChallengeStore keeps challenges in memory for tests and development.
// A single mutex serializes all writes, which trivially satisfies the per-phone
// serialization requirement.
type InMemoryChallengeStore struct {
	mu         sync.RWMutex
	challenges map[domain.Phone]*otp.Challenge
	issues     map[domain.Phone][]time.Time

	now func() time.Time
}

func NewInMemoryChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{
		challenges: make(map[domain.Phone]*otp.Challenge),
		issues:     make(map[domain.Phone][]time.Time),
		now:        time.Now,
	}
}

// WithClock overrides the store's clock. Test helper.
func (s *InMemoryChallengeStore) WithClock(now func() time.Time) *InMemoryChallengeStore {
	s.now = now
	return s
}

func (s *InMemoryChallengeStore) Replace(_ context.Context, challenge *otp.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *challenge
	s.challenges[challenge.Phone] = &cp
	return nil
}

func (s *InMemoryChallengeStore) Get(_ context.Context, phone domain.Phone) (*otp.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.challenges[phone]
	if !ok {
		return nil, fmt.Errorf("challenge for phone: %w", sentinel.ErrNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (s *InMemoryChallengeStore) Consume(_ context.Context, phone domain.Phone, codeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[phone]
	if !ok {
		return fmt.Errorf("challenge for phone: %w", sentinel.ErrNotFound)
	}
	if ch.Verified {
		return fmt.Errorf("challenge for phone: %w", sentinel.ErrAlreadyUsed)
	}
	if ch.CodeHash != codeHash {
		// A reissue replaced the challenge between the caller's read and
		// this write.
		return fmt.Errorf("challenge for phone: %w", sentinel.ErrNotFound)
	}
	ch.Verified = true
	return nil
}

func (s *InMemoryChallengeStore) IncrIssued(_ context.Context, phone domain.Phone, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-window)
	kept := s.issues[phone][:0]
	for _, t := range s.issues[phone] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.issues[phone] = kept
	return len(kept), nil
}
