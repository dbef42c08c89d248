package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldsync/internal/entity"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/httputil"
)

type syncHandler struct {
	entities *entity.Service
	logger   *slog.Logger
}

type commitRequest struct {
	MutationID  string         `json:"mutationId"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	BaseVersion int64          `json:"baseVersion"`
	Payload     map[string]any `json:"payload"`
}

type stateResponse struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Version    int64          `json:"version"`
	Payload    map[string]any `json:"payload"`
}

func toStateResponse(state *entity.State) stateResponse {
	return stateResponse{
		EntityType: state.EntityType,
		EntityID:   state.EntityID,
		Version:    state.Version,
		Payload:    state.Payload,
	}
}

// handleCommit applies one mutation. A stale base answers 409 with the current
// server copy so the agent can resolve locally and retry; it is not an error
// envelope.
func (h *syncHandler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[commitRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	mutationID, err := domain.ParseMutationID(req.MutationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.entities.Commit(ctx, entity.CommitRequest{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		BaseVersion: req.BaseVersion,
		Payload:     req.Payload,
		MutationID:  mutationID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Conflict {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, toStateResponse(result.State))
}

func (h *syncHandler) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.entities.Get(ctx, chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(state))
}
