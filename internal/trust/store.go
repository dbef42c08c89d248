package trust

import (
	"context"
	"time"

	"fieldsync/pkg/domain"
)

// DecisionStore persists AuthDecisions.
//
// Error contract: Get and the mutation methods return a wrapped
// sentinel.ErrNotFound for unknown IDs.
type DecisionStore interface {
	Create(ctx context.Context, decision *AuthDecision) error
	Get(ctx context.Context, id domain.DecisionID) (*AuthDecision, error)

	// SetOutcome records the outcome if none has been recorded yet. Returns
	// false when an outcome already exists, which callers treat as a
	// successful no-op.
	SetOutcome(ctx context.Context, id domain.DecisionID, outcome Outcome, at time.Time) (bool, error)

	// IncChallengeAttempts bumps the failed-challenge counter and returns
	// the new total.
	IncChallengeAttempts(ctx context.Context, id domain.DecisionID) (int, error)
}

// RiskStore is append-only; risk events are never updated or deleted.
type RiskStore interface {
	Append(ctx context.Context, event *RiskEvent) error
	ListBySubject(ctx context.Context, subject domain.SubjectID, limit int) ([]*RiskEvent, error)
}

// HistoryStore tracks what past successful logins looked like per subject.
type HistoryStore interface {
	// Get returns the subject's history, or wrapped sentinel.ErrNotFound for
	// a subject with no successful logins yet.
	Get(ctx context.Context, subject domain.SubjectID) (*SubjectHistory, error)

	// RecordObservation folds one successful login's context into the
	// subject's history.
	RecordObservation(ctx context.Context, subject domain.SubjectID, fingerprint, region string, at time.Time) error
}

// QuestionStore keeps the knowledge-challenge answer hashes. Only the bcrypt
// hash is ever stored.
type QuestionStore interface {
	// AnswerHash returns the stored hash, or wrapped sentinel.ErrNotFound
	// when the subject has no question configured.
	AnswerHash(ctx context.Context, subject domain.SubjectID) ([]byte, error)
	SetAnswer(ctx context.Context, subject domain.SubjectID, hash []byte) error
}
