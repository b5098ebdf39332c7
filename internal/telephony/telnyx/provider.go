package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/telephony"
)

const apiBase = "https://api.telnyx.com/v2"

// Provider bridges calls through the Telnyx Call Control API with media
// streaming into the engine session.
type Provider struct {
	http    *http.Client
	baseURL string
	cbBase  string
}

// New constructs the provider.
func New(statusCallbackBase string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Provider{
		http:    &http.Client{Timeout: timeout},
		baseURL: apiBase,
		cbBase:  statusCallbackBase,
	}
}

// Name returns the provider tag.
func (p *Provider) Name() string { return "telnyx" }

type createCallPayload struct {
	ConnectionID      string `json:"connection_id"`
	From              string `json:"from"`
	To                string `json:"to"`
	StreamURL         string `json:"stream_url"`
	StreamTrack       string `json:"stream_track"`
	WebhookURL        string `json:"webhook_url"`
	WebhookURLMethod  string `json:"webhook_url_method"`
	AnsweringMachine  string `json:"answering_machine_detection"`
	TimeLimitSecs     int    `json:"time_limit_secs"`
}

// Bridge creates the outbound call. Telnyx credentials carry the call
// control connection id in AccountID and the API key in AuthToken.
func (p *Provider) Bridge(ctx context.Context, creds domain.TelephonyCredentials, req telephony.BridgeRequest) error {
	payload := createCallPayload{
		ConnectionID:     creds.AccountID,
		From:             req.FromPhone,
		To:               req.ToPhone,
		StreamURL:        req.JoinURL,
		StreamTrack:      "both_tracks",
		WebhookURL:       telephony.StatusCallbackURL(p.cbBase, p.Name(), req),
		WebhookURLMethod: http.MethodPost,
		AnsweringMachine: "detect",
		TimeLimitSecs:    900,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telnyx: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/calls", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("telnyx: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AuthToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telnyx: create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("telnyx: create call: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
