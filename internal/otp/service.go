package otp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

const (
	defaultMaxIssues   = 5
	defaultIssueWindow = time.Hour
)

// Internal verification failure reasons. These feed logs and metrics only;
// callers always see the single generic failure message so a submitted code
// reveals nothing about whether a challenge exists.
const (
	reasonNoChallenge  = "no_active_challenge"
	reasonAlreadyUsed  = "already_verified"
	reasonExpired      = "expired"
	reasonCodeMismatch = "code_mismatch"
)

// IssueResult reports the outcome of issuing a challenge. Code is populated
// only in test mode, where no SMS is dispatched.
type IssueResult struct {
	ExpiresAt time.Time
	TestMode  bool
	Code      string
}

// Gateway dispatches a one-time code to a phone.
type Gateway interface {
	SendCode(ctx context.Context, phone domain.Phone, code string) error
}

// Service issues and verifies one-time codes.
//
// Issuing replaces any prior unconsumed challenge for the phone. Verification
// is single-use and reports every failure mode with the same error so callers
// cannot probe for active challenges. This service does not write audit
// events; the login orchestration that calls it owns the audit trail.
type Service struct {
	store   ChallengeStore
	gateway Gateway
	logger  *slog.Logger

	ttl         time.Duration
	maxIssues   int
	issueWindow time.Duration
	testMode    bool
	metrics     *Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTTL overrides the challenge lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithIssueLimit overrides the per-phone issue throttle.
func WithIssueLimit(max int, window time.Duration) Option {
	return func(s *Service) {
		s.maxIssues = max
		s.issueWindow = window
	}
}

// WithTestMode makes Issue return the raw code instead of dispatching SMS.
// Development and automated-test environments only.
func WithTestMode(enabled bool) Option {
	return func(s *Service) { s.testMode = enabled }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store ChallengeStore, gateway Gateway, opts ...Option) *Service {
	s := &Service{
		store:       store,
		gateway:     gateway,
		logger:      slog.Default(),
		ttl:         ChallengeTTL,
		maxIssues:   defaultMaxIssues,
		issueWindow: defaultIssueWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue generates a fresh code for the phone, persists its hash, and
// dispatches it over SMS. Any prior unconsumed challenge for the phone becomes
// unverifiable.
//
// If SMS dispatch fails the challenge stays persisted and the error carries
// CodeUnavailable so the caller can retry delivery without invalidating the
// code a later retry would re-send.
func (s *Service) Issue(ctx context.Context, phone domain.Phone) (*IssueResult, error) {
	count, err := s.store.IncrIssued(ctx, phone, s.issueWindow)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count issued challenges")
	}
	if count > s.maxIssues {
		s.metrics.IncThrottled()
		s.logger.WarnContext(ctx, "otp issue throttled",
			slog.String("phone", phone.Masked()),
			slog.Int("count", count))
		return nil, dErrors.New(dErrors.CodeRateLimited, "too many codes requested, try again later")
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate code")
	}

	now := requestcontext.Now(ctx)
	challenge := &Challenge{
		Phone:     phone,
		CodeHash:  HashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Replace(ctx, challenge); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist challenge")
	}
	s.metrics.IncIssued()

	if s.testMode {
		s.logger.InfoContext(ctx, "otp issued in test mode", slog.String("phone", phone.Masked()))
		return &IssueResult{ExpiresAt: challenge.ExpiresAt, TestMode: true, Code: code}, nil
	}

	if err := s.gateway.SendCode(ctx, phone, code); err != nil {
		// The challenge is already persisted on purpose: the caller retries
		// delivery, not issuance, so the throttle is not double-charged.
		s.metrics.IncDeliveryFailed()
		s.logger.ErrorContext(ctx, "otp delivery failed",
			slog.String("phone", phone.Masked()),
			slog.Any("error", err))
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "code delivery failed, retry shortly")
	}

	s.logger.InfoContext(ctx, "otp issued",
		slog.String("phone", phone.Masked()),
		slog.Time("expires_at", challenge.ExpiresAt))
	return &IssueResult{ExpiresAt: challenge.ExpiresAt}, nil
}

// Verify checks the submitted code against the phone's active challenge and
// consumes it on success. All failure modes return the same generic
// CodeUnauthorized error.
func (s *Service) Verify(ctx context.Context, phone domain.Phone, code string) error {
	challenge, err := s.store.Get(ctx, phone)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.fail(ctx, phone, reasonNoChallenge)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load challenge")
	}

	if challenge.Verified {
		return s.fail(ctx, phone, reasonAlreadyUsed)
	}
	if challenge.Expired(requestcontext.Now(ctx)) {
		return s.fail(ctx, phone, reasonExpired)
	}
	if !CodeEqual(code, challenge.CodeHash) {
		return s.fail(ctx, phone, reasonCodeMismatch)
	}

	if err := s.store.Consume(ctx, phone, challenge.CodeHash); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			// Lost a verification race; only the winner gets a session.
			return s.fail(ctx, phone, reasonAlreadyUsed)
		case errors.Is(err, sentinel.ErrNotFound):
			// Raced with a concurrent reissue or expiry between Get and
			// Consume. Same generic answer as any other miss.
			return s.fail(ctx, phone, reasonNoChallenge)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "consume challenge")
	}

	s.metrics.IncVerified()
	s.logger.InfoContext(ctx, "otp verified", slog.String("phone", phone.Masked()))
	return nil
}

func (s *Service) fail(ctx context.Context, phone domain.Phone, reason string) error {
	s.metrics.IncVerifyFailed(reason)
	s.logger.InfoContext(ctx, "otp verification failed",
		slog.String("phone", phone.Masked()),
		slog.String("reason", reason))
	return dErrors.New(dErrors.CodeUnauthorized, "verification failed")
}
