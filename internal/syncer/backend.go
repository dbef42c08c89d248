package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldsync/pkg/platform/circuit"
	"fieldsync/pkg/platform/sentinel"
)

// Backend is the server the coordinator drains into.
//
// Error contract: transport-level failures return wrapped
// sentinel.ErrUnavailable (retryable). A stale base is not an error; it comes
// back as CommitOutcome.Conflict with the server copy attached.
type Backend interface {
	Commit(ctx context.Context, m *QueuedMutation) (*CommitOutcome, error)
	Fetch(ctx context.Context, entityType, entityID string) (map[string]any, int64, error)
}

const backendTimeout = 15 * time.Second

// HTTPBackend talks to the sync API over HTTP. A circuit breaker keeps a dead
// or flapping link from stalling every drain cycle on full timeouts.
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuit.Breaker
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: backendTimeout},
		breaker:    circuit.New("sync-backend", circuit.WithFailureThreshold(3), circuit.WithCooldown(20*time.Second)),
	}
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

func (b *HTTPBackend) Commit(ctx context.Context, m *QueuedMutation) (*CommitOutcome, error) {
	if !b.breaker.Allow() {
		return nil, fmt.Errorf("sync backend circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(commitRequest{
		MutationID:  m.ID.String(),
		EntityType:  m.EntityType,
		EntityID:    m.EntityID,
		BaseVersion: m.BaseVersion,
		Payload:     m.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal commit request: %w", err)
	}

	resp, err := b.do(ctx, http.MethodPost, b.baseURL+"/sync/commit", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		b.breaker.RecordSuccess()
		var state stateResponse
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return nil, fmt.Errorf("decode commit response: %w", err)
		}
		return &CommitOutcome{Version: state.Version}, nil
	case http.StatusConflict:
		b.breaker.RecordSuccess()
		var state stateResponse
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return nil, fmt.Errorf("decode conflict response: %w", err)
		}
		return &CommitOutcome{
			Conflict:      true,
			ServerPayload: state.Payload,
			ServerVersion: state.Version,
		}, nil
	default:
		b.breaker.RecordFailure()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("commit failed status=%d body=%s: %w",
			resp.StatusCode, string(raw), sentinel.ErrUnavailable)
	}
}

func (b *HTTPBackend) Fetch(ctx context.Context, entityType, entityID string) (map[string]any, int64, error) {
	if !b.breaker.Allow() {
		return nil, 0, fmt.Errorf("sync backend circuit open: %w", sentinel.ErrUnavailable)
	}

	url := fmt.Sprintf("%s/sync/state/%s/%s", b.baseURL, entityType, entityID)
	resp, err := b.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		b.breaker.RecordSuccess()
		return nil, 0, fmt.Errorf("entity %s/%s: %w", entityType, entityID, sentinel.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		b.breaker.RecordFailure()
		return nil, 0, fmt.Errorf("fetch state failed status=%d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	b.breaker.RecordSuccess()

	var state stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, 0, fmt.Errorf("decode state response: %w", err)
	}
	return state.Payload, state.Version, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("sync request: %v: %w", err, sentinel.ErrUnavailable)
	}
	return resp, nil
}
