// Package engine is the HTTP client for the voice-AI engine: it allocates
// call sessions the telephony bridge streams into, and manages the
// end-of-call webhook registration.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CreateCallRequest asks the engine for a new call session. Incoming is
// always true here: the engine allocates the session and returns a join URL,
// and the telephony provider bridges the real call into it. The engine's own
// outbound dialing is deliberately not used so provider behavior (status
// callbacks, machine detection, billing) stays visible to the scheduler.
type CreateCallRequest struct {
	AgentID            string
	Provider           string
	MaxDurationSeconds int
	RecordingEnabled   bool
	Tags               map[string]string
}

// CreateCallResponse carries the session identity back.
type CreateCallResponse struct {
	CallID  string
	JoinURL string
}

// CallDetails is the engine's post-call record.
type CallDetails struct {
	CallID        string
	Status        string
	EndReason     string
	JoinedAt      *time.Time
	EndedAt       *time.Time
	BilledSeconds int
	Summary       string
	ShortSummary  string
	RecordingURL  string
}

// Client abstracts the voice engine API.
type Client interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error)
	GetCallDetails(ctx context.Context, callID string) (*CallDetails, error)
	CreateWebhook(ctx context.Context, url string, events []string, secret string) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// StatusError is returned when the engine answers with a non-success code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient talks to the engine's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient constructs a client. The timeout is kept to single-digit
// seconds so a hung engine cannot pin the processing latch.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type createCallPayload struct {
	AgentID string `json:"agent_id"`
	Medium  struct {
		Provider string `json:"provider"`
		Incoming bool   `json:"incoming"`
	} `json:"medium"`
	MaxDurationSeconds int               `json:"max_duration_seconds"`
	RecordingEnabled   bool              `json:"recording_enabled"`
	Tags               map[string]string `json:"tags,omitempty"`
}

type createCallResult struct {
	CallID  string `json:"call_id"`
	JoinURL string `json:"join_url"`
}

// CreateCall allocates an engine session bound to the provider medium.
func (c *HTTPClient) CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error) {
	payload := createCallPayload{
		AgentID:            req.AgentID,
		MaxDurationSeconds: req.MaxDurationSeconds,
		RecordingEnabled:   req.RecordingEnabled,
		Tags:               req.Tags,
	}
	payload.Medium.Provider = req.Provider
	payload.Medium.Incoming = true

	var result createCallResult
	if err := c.do(ctx, http.MethodPost, "/v1/calls", payload, &result); err != nil {
		return nil, err
	}
	if result.CallID == "" {
		return nil, fmt.Errorf("engine: create call: empty call id in response")
	}
	return &CreateCallResponse{CallID: result.CallID, JoinURL: result.JoinURL}, nil
}

type callDetailsResult struct {
	CallID        string     `json:"call_id"`
	Status        string     `json:"status"`
	EndReason     string     `json:"end_reason"`
	JoinedAt      *time.Time `json:"joined_at"`
	EndedAt       *time.Time `json:"ended_at"`
	BilledSeconds int        `json:"billed_seconds"`
	Summary       string     `json:"summary"`
	ShortSummary  string     `json:"short_summary"`
	RecordingURL  string     `json:"recording_url"`
}

// GetCallDetails fetches timing, billing, summary and recording data.
func (c *HTTPClient) GetCallDetails(ctx context.Context, callID string) (*CallDetails, error) {
	var result callDetailsResult
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+callID, nil, &result); err != nil {
		return nil, err
	}
	return &CallDetails{
		CallID:        result.CallID,
		Status:        result.Status,
		EndReason:     result.EndReason,
		JoinedAt:      result.JoinedAt,
		EndedAt:       result.EndedAt,
		BilledSeconds: result.BilledSeconds,
		Summary:       result.Summary,
		ShortSummary:  result.ShortSummary,
		RecordingURL:  result.RecordingURL,
	}, nil
}

type createWebhookPayload struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type createWebhookResult struct {
	ID string `json:"id"`
}

// CreateWebhook registers a webhook for the given events.
func (c *HTTPClient) CreateWebhook(ctx context.Context, url string, events []string, secret string) (string, error) {
	var result createWebhookResult
	payload := createWebhookPayload{URL: url, Events: events, Secret: secret}
	if err := c.do(ctx, http.MethodPost, "/v1/webhooks", payload, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// DeleteWebhook removes a webhook registration.
func (c *HTTPClient) DeleteWebhook(ctx context.Context, webhookID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/webhooks/"+webhookID, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("engine: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("engine: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("engine: decode response: %w", err)
		}
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
