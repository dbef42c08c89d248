// Package postgres persists trust decisions, risk events, subject history,
// and knowledge-challenge answers.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/trust"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

// Migrate creates the trust tables if missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS auth_decisions (
			id                 UUID PRIMARY KEY,
			subject_id         UUID NOT NULL,
			device_known       BOOLEAN NOT NULL,
			geo_match          BOOLEAN NOT NULL,
			time_match         BOOLEAN NOT NULL,
			external_confidence DOUBLE PRECISION NOT NULL,
			score              INTEGER NOT NULL,
			decision           TEXT NOT NULL,
			fingerprint        TEXT NOT NULL DEFAULT '',
			region             TEXT NOT NULL DEFAULT '',
			outcome            TEXT NOT NULL DEFAULT 'pending',
			outcome_at         TIMESTAMPTZ,
			challenge_attempts INTEGER NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_auth_decisions_subject ON auth_decisions(subject_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS risk_events (
			id         UUID PRIMARY KEY,
			subject_id UUID NOT NULL,
			decision_id UUID,
			kind       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			details    JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_risk_events_subject ON risk_events(subject_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS subject_history (
			subject_id   UUID PRIMARY KEY,
			fingerprints JSONB NOT NULL DEFAULT '[]',
			regions      JSONB NOT NULL DEFAULT '[]',
			active_hours INTEGER NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS challenge_questions (
			subject_id  UUID PRIMARY KEY,
			answer_hash BYTEA NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate trust tables: %w", err)
	}
	return nil
}

// DecisionStore persists AuthDecisions. Outcome updates are conditional so
// recording stays idempotent under concurrent callers.
type DecisionStore struct {
	db *sql.DB
}

func NewDecisionStore(db *sql.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func (s *DecisionStore) Create(ctx context.Context, d *trust.AuthDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_decisions
			(id, subject_id, device_known, geo_match, time_match, external_confidence,
			 score, decision, fingerprint, region, outcome, challenge_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, uuid.UUID(d.ID), uuid.UUID(d.Subject),
		d.Factors.DeviceKnown, d.Factors.GeoMatch, d.Factors.TimeMatch, d.Factors.ExternalConfidence,
		d.Score, string(d.Decision), d.Fingerprint, d.Region, string(d.Outcome),
		d.ChallengeAttempts, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *DecisionStore) Get(ctx context.Context, id domain.DecisionID) (*trust.AuthDecision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, device_known, geo_match, time_match, external_confidence,
		       score, decision, fingerprint, region, outcome, outcome_at, challenge_attempts, created_at
		FROM auth_decisions WHERE id = $1
	`, uuid.UUID(id))

	var (
		d         trust.AuthDecision
		decID     uuid.UUID
		subjectID uuid.UUID
		decision  string
		outcome   string
		outcomeAt sql.NullTime
	)
	err := row.Scan(&decID, &subjectID, &d.Factors.DeviceKnown, &d.Factors.GeoMatch,
		&d.Factors.TimeMatch, &d.Factors.ExternalConfidence, &d.Score, &decision,
		&d.Fingerprint, &d.Region, &outcome, &outcomeAt, &d.ChallengeAttempts, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}

	d.ID = domain.DecisionID(decID)
	d.Subject = domain.SubjectID(subjectID)
	d.Decision = trust.DecisionKind(decision)
	d.Outcome = trust.Outcome(outcome)
	if outcomeAt.Valid {
		t := outcomeAt.Time
		d.OutcomeAt = &t
	}
	return &d, nil
}

func (s *DecisionStore) SetOutcome(ctx context.Context, id domain.DecisionID, outcome trust.Outcome, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_decisions SET outcome = $2, outcome_at = $3
		WHERE id = $1 AND outcome = 'pending'
	`, uuid.UUID(id), string(outcome), at)
	if err != nil {
		return false, fmt.Errorf("set outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set outcome rows: %w", err)
	}
	if affected == 0 {
		// Either the decision is missing or the outcome is already set.
		// Distinguish so callers can report NotFound correctly.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM auth_decisions WHERE id = $1)`,
			uuid.UUID(id)).Scan(&exists); err != nil {
			return false, fmt.Errorf("check decision exists: %w", err)
		}
		if !exists {
			return false, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
		}
		return false, nil
	}
	return true, nil
}

func (s *DecisionStore) IncChallengeAttempts(ctx context.Context, id domain.DecisionID) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE auth_decisions SET challenge_attempts = challenge_attempts + 1
		WHERE id = $1
		RETURNING challenge_attempts
	`, uuid.UUID(id))
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("decision %s: %w", id, sentinel.ErrNotFound)
		}
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}
	return attempts, nil
}

// RiskStore is append-only; no UPDATE or DELETE statements exist here.
type RiskStore struct {
	db *sql.DB
}

func NewRiskStore(db *sql.DB) *RiskStore {
	return &RiskStore{db: db}
}

func (s *RiskStore) Append(ctx context.Context, event *trust.RiskEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal risk details: %w", err)
		}
	}
	var decisionID any
	if !event.Decision.IsNil() {
		decisionID = uuid.UUID(event.Decision)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (id, subject_id, decision_id, kind, severity, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(event.ID), uuid.UUID(event.Subject), decisionID,
		string(event.Kind), string(event.Severity), details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

func (s *RiskStore) ListBySubject(ctx context.Context, subject domain.SubjectID, limit int) ([]*trust.RiskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, decision_id, kind, severity, details, created_at
		FROM risk_events WHERE subject_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, uuid.UUID(subject), limit)
	if err != nil {
		return nil, fmt.Errorf("list risk events: %w", err)
	}
	defer rows.Close()

	var out []*trust.RiskEvent
	for rows.Next() {
		var (
			e          trust.RiskEvent
			id         uuid.UUID
			subjectID  uuid.UUID
			decisionID uuid.NullUUID
			kind       string
			severity   string
			details    []byte
		)
		if err := rows.Scan(&id, &subjectID, &decisionID, &kind, &severity, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		e.ID = domain.RiskEventID(id)
		e.Subject = domain.SubjectID(subjectID)
		if decisionID.Valid {
			e.Decision = domain.DecisionID(decisionID.UUID)
		}
		e.Kind = trust.RiskKind(kind)
		e.Severity = trust.Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal risk details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// HistoryStore keeps one row per subject with the devices, regions, and hours
// seen on successful logins. Active hours pack into a 24-bit mask.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Get(ctx context.Context, subject domain.SubjectID) (*trust.SubjectHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprints, regions, active_hours, updated_at
		FROM subject_history WHERE subject_id = $1
	`, uuid.UUID(subject))

	var (
		history      trust.SubjectHistory
		fingerprints []byte
		regions      []byte
		hoursMask    int
	)
	err := row.Scan(&fingerprints, &regions, &hoursMask, &history.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history for subject %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	history.Subject = subject
	if err := json.Unmarshal(fingerprints, &history.Fingerprints); err != nil {
		return nil, fmt.Errorf("unmarshal fingerprints: %w", err)
	}
	if err := json.Unmarshal(regions, &history.Regions); err != nil {
		return nil, fmt.Errorf("unmarshal regions: %w", err)
	}
	for hour := 0; hour < 24; hour++ {
		history.ActiveHours[hour] = hoursMask&(1<<hour) != 0
	}
	return &history, nil
}

func (s *HistoryStore) RecordObservation(ctx context.Context, subject domain.SubjectID, fingerprint, region string, at time.Time) error {
	history, err := s.Get(ctx, subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		history = &trust.SubjectHistory{Subject: subject}
	} else if err != nil {
		return err
	}

	if fingerprint != "" && !history.DeviceSeen(fingerprint) {
		history.Fingerprints = append(history.Fingerprints, fingerprint)
	}
	if region != "" && !history.RegionSeen(region) {
		history.Regions = append(history.Regions, region)
	}
	history.ActiveHours[at.Hour()] = true

	fingerprints, err := json.Marshal(history.Fingerprints)
	if err != nil {
		return fmt.Errorf("marshal fingerprints: %w", err)
	}
	regions, err := json.Marshal(history.Regions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}
	hoursMask := 0
	for hour := 0; hour < 24; hour++ {
		if history.ActiveHours[hour] {
			hoursMask |= 1 << hour
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subject_history (subject_id, fingerprints, regions, active_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE SET
			fingerprints = EXCLUDED.fingerprints,
			regions = EXCLUDED.regions,
			active_hours = subject_history.active_hours | EXCLUDED.active_hours,
			updated_at = EXCLUDED.updated_at
	`, uuid.UUID(subject), fingerprints, regions, hoursMask, at)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// QuestionStore keeps bcrypt answer hashes, one question per subject.
type QuestionStore struct {
	db *sql.DB
}

func NewQuestionStore(db *sql.DB) *QuestionStore {
	return &QuestionStore{db: db}
}

func (s *QuestionStore) AnswerHash(ctx context.Context, subject domain.SubjectID) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT answer_hash FROM challenge_questions WHERE subject_id = $1`,
		uuid.UUID(subject)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question for subject %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get answer hash: %w", err)
	}
	return hash, nil
}

func (s *QuestionStore) SetAnswer(ctx context.Context, subject domain.SubjectID, hash []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenge_questions (subject_id, answer_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subject_id) DO UPDATE SET answer_hash = EXCLUDED.answer_hash, updated_at = NOW()
	`, uuid.UUID(subject), hash)
	if err != nil {
		return fmt.Errorf("set answer hash: %w", err)
	}
	return nil
}
