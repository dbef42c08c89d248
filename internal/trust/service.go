package trust

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"fieldsync/internal/audit"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

const defaultFailureThreshold = 3

// Service evaluates login attempts and manages decision lifecycles.
//
// Evaluate persists exactly one AuthDecision before returning. Risk events and
// audit writes are best-effort: their failures are logged but never fail the
// evaluation.
type Service struct {
	decisions DecisionStore
	risks     RiskStore
	history   HistoryStore
	questions QuestionStore

	weights          Weights
	failureThreshold int
	publisher        audit.Publisher
	logger           *slog.Logger
	metrics          *Metrics
	tracer           trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithWeights overrides the factor weights.
func WithWeights(w Weights) Option {
	return func(s *Service) { s.weights = w }
}

// WithPublisher sets the audit publisher.
func WithPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFailureThreshold sets how many failed challenge answers raise a
// repeated_failures risk event.
func WithFailureThreshold(n int) Option {
	return func(s *Service) { s.failureThreshold = n }
}

func NewService(decisions DecisionStore, risks RiskStore, history HistoryStore, questions QuestionStore, opts ...Option) *Service {
	s := &Service{
		decisions:        decisions,
		risks:            risks,
		history:          history,
		questions:        questions,
		weights:          DefaultWeights(),
		failureThreshold: defaultFailureThreshold,
		publisher:        audit.Discard{},
		logger:           slog.Default(),
		tracer:           otel.Tracer("fieldsync/trust"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate scores the login attempt and persists the resulting decision.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*AuthDecision, error) {
	ctx, span := s.tracer.Start(ctx, "trust.Evaluate")
	defer span.End()

	if req.Subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}

	now := requestcontext.Now(ctx)
	factors := s.resolveFactors(ctx, req, now.Hour())
	score := Score(factors, s.weights)
	kind := Decide(score)

	decision := &AuthDecision{
		ID:          domain.NewDecisionID(),
		Subject:     req.Subject,
		Factors:     factors,
		Score:       score,
		Decision:    kind,
		Fingerprint: req.DeviceFingerprint,
		Region:      req.Region,
		Outcome:     OutcomePending,
		CreatedAt:   now,
	}
	if err := s.decisions.Create(ctx, decision); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist decision")
	}

	span.SetAttributes(
		attribute.Int("trust.score", score),
		attribute.String("trust.decision", string(kind)),
	)
	s.metrics.IncEvaluation(kind)
	s.metrics.ObserveScore(score)

	s.raiseRiskEvents(ctx, decision)

	s.publisher.Emit(ctx, audit.Event{
		Subject:   req.Subject,
		Action:    audit.ActionDecisionMade,
		Decision:  string(kind),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Metadata: map[string]any{
			"decision_id": decision.ID.String(),
			"score":       score,
		},
	})

	s.logger.InfoContext(ctx, "trust decision",
		slog.String("decision_id", decision.ID.String()),
		slog.String("subject", req.Subject.String()),
		slog.Int("score", score),
		slog.String("decision", string(kind)))

	return decision, nil
}

// resolveFactors turns the subject's history into scoring factors. A subject
// with no history scores as a fully unknown context, which caps them below
// direct access.
func (s *Service) resolveFactors(ctx context.Context, req EvaluateRequest, hour int) Factors {
	factors := Factors{ExternalConfidence: req.ExternalConfidence}

	history, err := s.history.Get(ctx, req.Subject)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			// Fail closed: an unreadable history scores like no history.
			s.logger.ErrorContext(ctx, "history lookup failed",
				slog.String("subject", req.Subject.String()),
				slog.Any("error", err))
		}
		return factors
	}

	factors.DeviceKnown = history.DeviceSeen(req.DeviceFingerprint)
	factors.GeoMatch = history.RegionSeen(req.Region)
	factors.TimeMatch = history.HourTypical(hour)
	return factors
}

func (s *Service) raiseRiskEvents(ctx context.Context, decision *AuthDecision) {
	for _, derived := range DeriveRiskEvents(decision.Factors, decision.Score) {
		event := &RiskEvent{
			ID:        domain.NewRiskEventID(),
			Subject:   decision.Subject,
			Decision:  decision.ID,
			Kind:      derived.Kind,
			Severity:  derived.Severity,
			CreatedAt: decision.CreatedAt,
			Details: map[string]any{
				"score": decision.Score,
			},
		}
		if err := s.risks.Append(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "risk event append failed",
				slog.String("kind", string(event.Kind)),
				slog.String("decision_id", decision.ID.String()),
				slog.Any("error", err))
			continue
		}
		s.metrics.IncRiskEvent(event.Kind, event.Severity)
		s.publisher.Emit(ctx, audit.Event{
			Subject:   decision.Subject,
			Action:    audit.ActionRiskEventRaised,
			Reason:    string(event.Kind),
			RequestID: requestcontext.RequestID(ctx),
			Metadata: map[string]any{
				"risk_event_id": event.ID.String(),
				"decision_id":   decision.ID.String(),
				"severity":      string(event.Severity),
			},
		})
	}
}

// RecordOutcome records the final result of a decision. Idempotent: once an
// outcome exists, later calls are successful no-ops.
func (s *Service) RecordOutcome(ctx context.Context, id domain.DecisionID, outcome Outcome) error {
	if !outcome.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid outcome")
	}

	now := requestcontext.Now(ctx)
	updated, err := s.decisions.SetOutcome(ctx, id, outcome, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "record outcome")
	}
	if !updated {
		s.logger.DebugContext(ctx, "outcome already recorded",
			slog.String("decision_id", id.String()))
		return nil
	}

	s.metrics.IncOutcome(outcome)

	if outcome == OutcomeSuccess {
		s.recordHistory(ctx, id, now)
	}

	s.publisher.Emit(ctx, audit.Event{
		Action:    audit.ActionOutcomeRecorded,
		Decision:  string(outcome),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"decision_id": id.String()},
	})
	return nil
}

// recordHistory folds a successful login into the subject's history so the
// next evaluation recognizes this device, region, and hour.
func (s *Service) recordHistory(ctx context.Context, id domain.DecisionID, at time.Time) {
	decision, err := s.decisions.Get(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "decision fetch for history failed",
			slog.String("decision_id", id.String()),
			slog.Any("error", err))
		return
	}
	if err := s.history.RecordObservation(ctx, decision.Subject, decision.Fingerprint, decision.Region, at); err != nil {
		s.logger.ErrorContext(ctx, "history update failed",
			slog.String("subject", decision.Subject.String()),
			slog.Any("error", err))
	}
}

// AnswerChallenge verifies a knowledge-challenge answer for a decision that
// escalated to a challenge. A correct answer concludes the decision with a
// success outcome. All verification failures return the same generic error.
func (s *Service) AnswerChallenge(ctx context.Context, id domain.DecisionID, answer string) error {
	decision, err := s.decisions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load decision")
	}

	if decision.Decision != DecisionChallenge {
		return dErrors.New(dErrors.CodeConflict, "decision does not require a challenge")
	}
	if decision.Outcome != OutcomePending {
		return dErrors.New(dErrors.CodeConflict, "decision already concluded")
	}

	hash, err := s.questions.AnswerHash(ctx, decision.Subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// No question configured looks identical to a wrong answer.
			return s.challengeFailed(ctx, decision)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load challenge answer")
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(answer)) != nil {
		return s.challengeFailed(ctx, decision)
	}

	s.metrics.IncChallengeAnswer("passed")
	s.publisher.Emit(ctx, audit.Event{
		Subject:   decision.Subject,
		Action:    audit.ActionChallengePassed,
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"decision_id": id.String()},
	})
	return s.RecordOutcome(ctx, id, OutcomeSuccess)
}

func (s *Service) challengeFailed(ctx context.Context, decision *AuthDecision) error {
	s.metrics.IncChallengeAnswer("failed")

	attempts, err := s.decisions.IncChallengeAttempts(ctx, decision.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "challenge attempt count failed",
			slog.String("decision_id", decision.ID.String()),
			slog.Any("error", err))
	} else if attempts >= s.failureThreshold {
		event := &RiskEvent{
			ID:        domain.NewRiskEventID(),
			Subject:   decision.Subject,
			Decision:  decision.ID,
			Kind:      RiskRepeatedFailures,
			Severity:  SeverityHigh,
			CreatedAt: requestcontext.Now(ctx),
			Details:   map[string]any{"attempts": attempts},
		}
		if appendErr := s.risks.Append(ctx, event); appendErr != nil {
			s.logger.ErrorContext(ctx, "risk event append failed",
				slog.String("kind", string(RiskRepeatedFailures)),
				slog.Any("error", appendErr))
		} else {
			s.metrics.IncRiskEvent(event.Kind, event.Severity)
		}
	}

	s.publisher.Emit(ctx, audit.Event{
		Subject:   decision.Subject,
		Action:    audit.ActionChallengeFailed,
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"decision_id": decision.ID.String()},
	})
	return dErrors.New(dErrors.CodeUnauthorized, "challenge failed")
}

// SetChallengeAnswer hashes and stores the subject's knowledge answer.
func (s *Service) SetChallengeAnswer(ctx context.Context, subject domain.SubjectID, answer string) error {
	if subject.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if answer == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "answer is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(answer), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "hash answer")
	}
	if err := s.questions.SetAnswer(ctx, subject, hash); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "store answer")
	}
	return nil
}

// RiskEventsForSubject lists recent risk events for operator review.
func (s *Service) RiskEventsForSubject(ctx context.Context, subject domain.SubjectID, limit int) ([]*RiskEvent, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	events, err := s.risks.ListBySubject(ctx, subject, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list risk events")
	}
	return events, nil
}

// Decision fetches a decision by ID.
func (s *Service) Decision(ctx context.Context, id domain.DecisionID) (*AuthDecision, error) {
	decision, err := s.decisions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "decision not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load decision")
	}
	return decision, nil
}
