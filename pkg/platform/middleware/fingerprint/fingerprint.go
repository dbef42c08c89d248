// Package fingerprint derives a stable device fingerprint from the User-Agent
// and stores it in the request context for trust evaluation.
package fingerprint

import (
	"net/http"

	"fieldsync/pkg/requestcontext"
)

// Fingerprinter computes a device fingerprint from a raw User-Agent string.
// An empty result means fingerprinting is disabled or the input was unusable.
type Fingerprinter interface {
	ComputeFingerprint(userAgent string) string
}

// Middleware computes the fingerprint once per request. Must run after the
// client-metadata middleware so the User-Agent is already in the context.
func Middleware(f Fingerprinter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if fp := f.ComputeFingerprint(requestcontext.UserAgent(ctx)); fp != "" {
				ctx = requestcontext.WithDeviceFingerprint(ctx, fp)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
