package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/circuit"
	"fieldsync/pkg/platform/sentinel"
)

const defaultTimeout = 15 * time.Second

// SMSClient sends codes via a bulk SMS HTTP API. The code itself is never
// logged by this client.
type SMSClient struct {
	apiKey     string
	baseURL    string
	sender     string
	httpClient *http.Client
	breaker    *circuit.Breaker
}

// NewSMSClient returns a client for the given API endpoint. A circuit breaker
// guards the provider so a dead gateway fails fast instead of eating the
// request timeout on every login attempt.
func NewSMSClient(apiKey, baseURL, sender string) *SMSClient {
	return &SMSClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		sender:     sender,
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    circuit.New("sms-gateway", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
	}
}

// SendCode posts the code to the SMS provider. Returns a wrapped
// sentinel.ErrUnavailable on transport failures so callers can classify the
// error as retryable.
func (c *SMSClient) SendCode(ctx context.Context, phone domain.Phone, code string) error {
	if c.apiKey == "" || c.baseURL == "" {
		return fmt.Errorf("sms gateway not configured: %w", sentinel.ErrUnavailable)
	}
	if !c.breaker.Allow() {
		return fmt.Errorf("sms gateway circuit open: %w", sentinel.ErrUnavailable)
	}

	body := map[string]any{
		"route":     "otp",
		"sender":    c.sender,
		"numbers":   phone.String(),
		"variables": code,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("sms request: %v: %w", err, sentinel.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms request failed status=%d body=%s: %w", resp.StatusCode, string(b), sentinel.ErrUnavailable)
	}

	c.breaker.RecordSuccess()
	return nil
}
