// Package requesttime pins a single "now" for each HTTP request so audit
// records, challenge expiry checks, and domain timestamps within one request
// agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"fieldsync/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
