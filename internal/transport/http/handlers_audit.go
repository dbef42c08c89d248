package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fieldsync/internal/audit"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/httputil"
)

type auditHandler struct {
	store  audit.Store
	logger *slog.Logger
}

type auditEventResponse struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	SubjectID string         `json:"subjectId,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Action    string         `json:"action"`
	Decision  string         `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleListEvents returns the trail for one subject, or the most recent
// events across all subjects when no subject filter is given.
func (h *auditHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		events []audit.Event
		err    error
	)
	if raw := r.URL.Query().Get("subject"); raw != "" {
		var subject domain.SubjectID
		subject, err = domain.ParseSubjectID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		events, err = h.store.ListBySubject(ctx, subject)
	} else {
		events, err = h.store.ListRecent(ctx, queryLimit(r))
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		resp := auditEventResponse{
			ID:        e.ID.String(),
			Timestamp: e.Timestamp,
			Phone:     e.Phone,
			Action:    e.Action,
			Decision:  e.Decision,
			Reason:    e.Reason,
			IP:        e.IP,
			RequestID: e.RequestID,
			Metadata:  e.Metadata,
		}
		if !e.Subject.IsNil() {
			resp.SubjectID = e.Subject.String()
		}
		out = append(out, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

// queryLimit parses ?limit= with a sane default and upper bound.
func queryLimit(r *http.Request) int {
	const (
		defaultLimit = 50
		maxLimit     = 500
	)
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
