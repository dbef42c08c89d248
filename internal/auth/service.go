package auth

import (
	"context"
	"errors"
	"log/slog"

	"fieldsync/internal/audit"
	"fieldsync/internal/otp"
	"fieldsync/internal/token"
	"fieldsync/internal/trust"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

// Service runs the login flow end to end. OTP and trust keep their own
// contracts; this layer sequences them and writes the audit trail.
type Service struct {
	otp      *otp.Service
	trust    *trust.Service
	tokens   *token.Service
	subjects SubjectStore

	publisher audit.Publisher
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithPublisher sets the audit publisher.
func WithPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(otpSvc *otp.Service, trustSvc *trust.Service, tokens *token.Service, subjects SubjectStore, opts ...Option) *Service {
	s := &Service{
		otp:       otpSvc,
		trust:     trustSvc,
		tokens:    tokens,
		subjects:  subjects,
		publisher: audit.Discard{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode issues an OTP for the phone and records the attempt.
func (s *Service) RequestCode(ctx context.Context, phone domain.Phone) (*otp.IssueResult, error) {
	result, err := s.otp.Issue(ctx, phone)
	if err != nil {
		action := audit.ActionOTPVerifyFailed
		if dErrors.HasCode(err, dErrors.CodeRateLimited) {
			action = audit.ActionOTPThrottled
		}
		s.emit(ctx, audit.Event{Phone: phone.Masked(), Action: action, Reason: string(dErrors.CodeOf(err))})
		return nil, err
	}
	s.emit(ctx, audit.Event{Phone: phone.Masked(), Action: audit.ActionOTPIssued})
	return result, nil
}

// Login verifies the OTP and, on success, evaluates trust and concludes what
// the client gets: a token, a challenge, or a human handoff.
func (s *Service) Login(ctx context.Context, phone domain.Phone, code, region string, externalConfidence float64) (*LoginResult, error) {
	if err := s.otp.Verify(ctx, phone, code); err != nil {
		s.emit(ctx, audit.Event{
			Phone:  phone.Masked(),
			Action: audit.ActionOTPVerifyFailed,
			IP:     requestcontext.ClientIP(ctx),
		})
		return nil, err
	}

	subject, err := s.resolveSubject(ctx, phone)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Subject: subject,
		Phone:   phone.Masked(),
		Action:  audit.ActionOTPVerified,
		IP:      requestcontext.ClientIP(ctx),
	})

	decision, err := s.trust.Evaluate(ctx, trust.EvaluateRequest{
		Subject:            subject,
		DeviceFingerprint:  requestcontext.DeviceFingerprint(ctx),
		Region:             region,
		ExternalConfidence: externalConfidence,
	})
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Subject:    subject,
		DecisionID: decision.ID,
		Score:      decision.Score,
	}

	switch decision.Decision {
	case trust.DecisionDirectAccess:
		if err := s.trust.RecordOutcome(ctx, decision.ID, trust.OutcomeSuccess); err != nil {
			return nil, err
		}
		raw, err := s.tokens.Mint(subject, decision.ID, requestcontext.Now(ctx))
		if err != nil {
			return nil, err
		}
		result.Status = StatusGranted
		result.Token = raw
	case trust.DecisionChallenge:
		result.Status = StatusChallenge
	default:
		result.Status = StatusFallback
	}

	s.logger.InfoContext(ctx, "login concluded",
		slog.String("subject", subject.String()),
		slog.String("status", string(result.Status)),
		slog.Int("score", decision.Score))
	return result, nil
}

// AnswerChallenge completes a challenge-gated login. A correct answer mints
// the session token for the decision's subject.
func (s *Service) AnswerChallenge(ctx context.Context, decisionID domain.DecisionID, answer string) (*LoginResult, error) {
	if err := s.trust.AnswerChallenge(ctx, decisionID, answer); err != nil {
		return nil, err
	}
	decision, err := s.trust.Decision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	raw, err := s.tokens.Mint(decision.Subject, decisionID, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Status:     StatusGranted,
		Subject:    decision.Subject,
		DecisionID: decisionID,
		Score:      decision.Score,
		Token:      raw,
	}, nil
}

// resolveSubject finds the phone's subject, enrolling it on first login.
func (s *Service) resolveSubject(ctx context.Context, phone domain.Phone) (domain.SubjectID, error) {
	subject, err := s.subjects.FindByPhone(ctx, phone)
	if err == nil {
		return subject, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.SubjectID{}, dErrors.Wrap(err, dErrors.CodeInternal, "resolve subject")
	}
	subject, err = s.subjects.Enroll(ctx, phone)
	if err != nil {
		return domain.SubjectID{}, dErrors.Wrap(err, dErrors.CodeInternal, "enroll subject")
	}
	s.logger.InfoContext(ctx, "subject enrolled",
		slog.String("subject", subject.String()),
		slog.String("phone", phone.Masked()))
	return subject, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	s.publisher.Emit(ctx, event)
}
