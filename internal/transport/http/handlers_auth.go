package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldsync/internal/auth"
	"fieldsync/internal/trust"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/httputil"
	authmw "fieldsync/pkg/platform/middleware/auth"
)

type authHandler struct {
	auth   *auth.Service
	trust  *trust.Service
	logger *slog.Logger
}

type requestCodeRequest struct {
	Phone string `json:"phone"`
}

type requestCodeResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
	// TestCode is populated only when the OTP service runs in test mode.
	TestCode string `json:"testCode,omitempty"`
}

func (h *authHandler) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[requestCodeRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	phone, err := domain.ParsePhone(req.Phone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.auth.RequestCode(ctx, phone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := requestCodeResponse{ExpiresAt: result.ExpiresAt}
	if result.TestMode {
		resp.TestCode = result.Code
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
	// Region is self-reported by the client app from its last known position.
	Region             string  `json:"region,omitempty"`
	ExternalConfidence float64 `json:"externalConfidence,omitempty"`
}

type loginResponse struct {
	Status     string `json:"status"`
	SubjectID  string `json:"subjectId"`
	DecisionID string `json:"decisionId"`
	Score      int    `json:"score"`
	Token      string `json:"token,omitempty"`
}

func toLoginResponse(result *auth.LoginResult) loginResponse {
	return loginResponse{
		Status:     string(result.Status),
		SubjectID:  result.Subject.String(),
		DecisionID: result.DecisionID.String(),
		Score:      result.Score,
		Token:      result.Token,
	}
}

func (h *authHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[verifyRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	phone, err := domain.ParsePhone(req.Phone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "code is required"))
		return
	}

	result, err := h.auth.Login(ctx, phone, req.Code, req.Region, req.ExternalConfidence)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoginResponse(result))
}

type answerChallengeRequest struct {
	DecisionID string `json:"decisionId"`
	Answer     string `json:"answer"`
}

func (h *authHandler) handleAnswerChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[answerChallengeRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	decisionID, err := domain.ParseDecisionID(req.DecisionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Answer == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "answer is required"))
		return
	}

	result, err := h.auth.AnswerChallenge(ctx, decisionID, req.Answer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoginResponse(result))
}

type enrollChallengeRequest struct {
	Answer string `json:"answer"`
}

// handleEnrollChallenge lets an authenticated subject set the knowledge answer
// used when a later login lands in the challenge band.
func (h *authHandler) handleEnrollChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[enrollChallengeRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if len(req.Answer) < 3 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "answer is too short"))
		return
	}

	if err := h.trust.SetChallengeAnswer(ctx, authmw.Subject(ctx), req.Answer); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordOutcomeRequest struct {
	Outcome string `json:"outcome"`
}

// handleRecordOutcome is the operator path for concluding decisions, primarily
// human-fallback reviews.
func (h *authHandler) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decisionID, err := domain.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[recordOutcomeRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}

	if err := h.trust.RecordOutcome(ctx, decisionID, trust.Outcome(req.Outcome)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type riskEventResponse struct {
	ID         string         `json:"id"`
	SubjectID  string         `json:"subjectId"`
	DecisionID string         `json:"decisionId,omitempty"`
	Kind       string         `json:"kind"`
	Severity   string         `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (h *authHandler) handleRiskEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.trust.RiskEventsForSubject(ctx, subjectID, queryLimit(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]riskEventResponse, 0, len(events))
	for _, e := range events {
		resp := riskEventResponse{
			ID:        e.ID.String(),
			SubjectID: e.Subject.String(),
			Kind:      string(e.Kind),
			Severity:  string(e.Severity),
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		}
		if !e.Decision.IsNil() {
			resp.DecisionID = e.Decision.String()
		}
		out = append(out, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}
