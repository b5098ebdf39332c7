package plivo

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

const apiBase = "https://api.plivo.com/v1"

// Provider bridges calls through the Plivo REST API. Plivo dials the
// customer and fetches answer instructions that stream the call audio into
// the engine session.
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
func (p *Provider) Name() string { return "plivo" }

type createCallPayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	AnswerURL      string `json:"answer_url"`
	AnswerMethod   string `json:"answer_method"`
	HangupURL      string `json:"hangup_url"`
	HangupMethod   string `json:"hangup_method"`
	MachineDetect  string `json:"machine_detection"`
	RingTimeout    int    `json:"ring_timeout"`
	StreamURL      string `json:"stream_url"`
}

// Bridge creates the outbound call.
func (p *Provider) Bridge(ctx context.Context, creds domain.TelephonyCredentials, req telephony.BridgeRequest) error {
	callback := telephony.StatusCallbackURL(p.cbBase, p.Name(), req)
	payload := createCallPayload{
		From:          req.FromPhone,
		To:            req.ToPhone,
		AnswerURL:     callback,
		AnswerMethod:  http.MethodPost,
		HangupURL:     callback,
		HangupMethod:  http.MethodPost,
		MachineDetect: "true",
		RingTimeout:   30,
		StreamURL:     req.JoinURL,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("plivo: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Account/%s/Call/", p.baseURL, creds.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("plivo: build request: %w", err)
	}
	httpReq.SetBasicAuth(creds.AccountID, creds.AuthToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("plivo: create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("plivo: create call: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
