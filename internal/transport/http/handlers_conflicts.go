package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"fieldsync/internal/syncer"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/httputil"
	"fieldsync/pkg/platform/middleware/admin"
	"fieldsync/pkg/platform/middleware/requestid"
	"fieldsync/pkg/platform/middleware/requesttime"
)

// NewAgentRouter serves the sync agent's local operator API: inspecting the
// queue and resolving conflicts the policy escalated to a human.
func NewAgentRouter(coordinator *syncer.Coordinator, adminToken string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &conflictHandler{coordinator: coordinator, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/conflicts", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(adminToken, logger))
		r.Get("/", h.handleList)
		r.Get("/{mutationID}", h.handleInspect)
		r.Post("/{mutationID}/resolve", h.handleResolve)
		r.Post("/{mutationID}/decline", h.handleDecline)
	})

	r.With(admin.RequireAdminToken(adminToken, logger)).
		Post("/sync/drain", h.handleDrainNow)

	return r
}

type conflictHandler struct {
	coordinator *syncer.Coordinator
	logger      *slog.Logger
}

type mutationResponse struct {
	ID          string         `json:"id"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	BaseVersion int64          `json:"baseVersion"`
	Payload     map[string]any `json:"payload"`
	State       string         `json:"state"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"lastError,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (h *conflictHandler) handleList(w http.ResponseWriter, r *http.Request) {
	conflicted, err := h.coordinator.Conflicts(r.Context(), queryLimit(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]mutationResponse, 0, len(conflicted))
	for _, m := range conflicted {
		out = append(out, toMutationResponse(m))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"conflicts": out})
}

func toMutationResponse(m *syncer.QueuedMutation) mutationResponse {
	return mutationResponse{
		ID:          m.ID.String(),
		EntityType:  m.EntityType,
		EntityID:    m.EntityID,
		BaseVersion: m.BaseVersion,
		Payload:     m.Payload,
		State:       string(m.State),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type conflictDetailResponse struct {
	Mutation      mutationResponse `json:"mutation"`
	ServerVersion int64            `json:"serverVersion"`
	ServerPayload map[string]any   `json:"serverPayload"`
}

// handleInspect pairs a conflicted mutation with the entity's current server
// copy so the operator decides with fresh state in front of them.
func (h *conflictHandler) handleInspect(w http.ResponseWriter, r *http.Request) {
	mutationID, err := domain.ParseMutationID(chi.URLParam(r, "mutationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, serverPayload, serverVersion, err := h.coordinator.Conflict(r.Context(), mutationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conflictDetailResponse{
		Mutation:      toMutationResponse(m),
		ServerVersion: serverVersion,
		ServerPayload: serverPayload,
	})
}

type resolveConflictRequest struct {
	Payload     map[string]any `json:"payload"`
	BaseVersion int64          `json:"baseVersion"`
}

func (h *conflictHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mutationID, err := domain.ParseMutationID(chi.URLParam(r, "mutationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[resolveConflictRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if len(req.Payload) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "payload is required"))
		return
	}

	if err := h.coordinator.ResolveConflict(ctx, mutationID, req.Payload, req.BaseVersion); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.coordinator.NotifyConnectivity()
	w.WriteHeader(http.StatusNoContent)
}

func (h *conflictHandler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mutationID, err := domain.ParseMutationID(chi.URLParam(r, "mutationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.coordinator.DeclineConflict(ctx, mutationID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDrainNow pokes the coordinator instead of waiting for the next tick.
// Field operators use it right after connectivity returns.
func (h *conflictHandler) handleDrainNow(w http.ResponseWriter, _ *http.Request) {
	h.coordinator.NotifyConnectivity()
	w.WriteHeader(http.StatusAccepted)
}
