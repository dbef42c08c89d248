// Package auth guards routes behind a bearer session token.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/httputil"
	"fieldsync/pkg/requestcontext"
)

// TokenValidator resolves a raw bearer token to the subject it was minted for.
type TokenValidator interface {
	Subject(raw string) (domain.SubjectID, error)
}

type subjectKey struct{}

// Subject retrieves the authenticated subject from the context. The zero value
// means the request never passed RequireToken.
func Subject(ctx context.Context) domain.SubjectID {
	if s, ok := ctx.Value(subjectKey{}).(domain.SubjectID); ok {
		return s
	}
	return domain.SubjectID{}
}

// WithSubject injects an authenticated subject. For handler tests that skip
// the middleware chain.
func WithSubject(ctx context.Context, subject domain.SubjectID) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// RequireToken rejects requests without a valid "Bearer" Authorization header
// and stores the token's subject in the context.
func RequireToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			subject, err := validator.Subject(raw)
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected",
					slog.String("request_id", requestcontext.RequestID(r.Context())))
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
