// Package requestid assigns each request an ID for log and audit correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"fieldsync/pkg/requestcontext"
)

// Header carries the request ID on both requests and responses.
const Header = "X-Request-ID"

// Middleware adopts the caller's request ID when present, otherwise mints one.
// The ID is echoed on the response so clients can quote it in support reports.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
