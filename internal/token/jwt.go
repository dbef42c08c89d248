// Package token mints and validates the session tokens handed out when a
// login concludes successfully.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
)

const defaultTTL = 12 * time.Hour

// Claims are the JWT claims carried by a session token.
type Claims struct {
	SubjectID  string `json:"subject_id"`
	DecisionID string `json:"decision_id"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 session tokens.
type Service struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func NewService(signingKey, issuer string, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint issues a token bound to the subject and the decision that granted
// access.
func (s *Service) Mint(subject domain.SubjectID, decision domain.DecisionID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SubjectID:  subject.String(),
		DecisionID: decision.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign token")
	}
	return signed, nil
}

// Validate parses and verifies a token string.
func (s *Service) Validate(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// Subject extracts the subject ID from a validated token.
func (s *Service) Subject(raw string) (domain.SubjectID, error) {
	claims, err := s.Validate(raw)
	if err != nil {
		return domain.SubjectID{}, err
	}
	return domain.ParseSubjectID(claims.SubjectID)
}
