// Package httptransport is the thin HTTP layer over the identity and sync
// services. Handlers decode, delegate, and encode; business rules stay in the
// services.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/audit"
	"fieldsync/internal/auth"
	"fieldsync/internal/entity"
	"fieldsync/internal/trust"
	"fieldsync/pkg/platform/httputil"
	"fieldsync/pkg/platform/middleware/admin"
	authmw "fieldsync/pkg/platform/middleware/auth"
	"fieldsync/pkg/platform/middleware/fingerprint"
	"fieldsync/pkg/platform/middleware/metadata"
	"fieldsync/pkg/platform/middleware/requestid"
	"fieldsync/pkg/platform/middleware/requesttime"
)

// Config carries the dependencies of the public router.
type Config struct {
	Auth     *auth.Service
	Trust    *trust.Service
	Entities *entity.Service
	Audit    audit.Store

	Tokens        authmw.TokenValidator
	Fingerprinter fingerprint.Fingerprinter
	AdminToken    string
	Logger        *slog.Logger
}

// NewRouter wires the public endpoints with the shared middleware chain.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if cfg.Fingerprinter != nil {
		r.Use(fingerprint.Middleware(cfg.Fingerprinter))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	ah := &authHandler{auth: cfg.Auth, trust: cfg.Trust, logger: logger}
	r.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", ah.handleRequestCode)
		r.Post("/otp/verify", ah.handleVerify)
		r.Post("/challenge/answer", ah.handleAnswerChallenge)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireToken(cfg.Tokens, logger))
			r.Post("/challenge/enroll", ah.handleEnrollChallenge)
		})

		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
			r.Post("/decisions/{decisionID}/outcome", ah.handleRecordOutcome)
			r.Get("/subjects/{subjectID}/risk-events", ah.handleRiskEvents)
		})
	})

	audh := &auditHandler{store: cfg.Audit, logger: logger}
	r.With(admin.RequireAdminToken(cfg.AdminToken, logger)).
		Get("/audit/events", audh.handleListEvents)

	sh := &syncHandler{entities: cfg.Entities, logger: logger}
	r.Route("/sync", func(r chi.Router) {
		r.Use(authmw.RequireToken(cfg.Tokens, logger))
		r.Post("/commit", sh.handleCommit)
		r.Get("/state/{entityType}/{entityID}", sh.handleState)
	})

	return r
}
