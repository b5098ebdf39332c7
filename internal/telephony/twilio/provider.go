package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/telephony"
)

const apiBase = "https://api.twilio.com/2010-04-01"

// Provider bridges calls through the Twilio REST API. The call is created
// with inline TwiML that connects the answered leg to the engine session's
// media stream.
type Provider struct {
	http    *http.Client
	baseURL string // Twilio API base, overridable in tests
	cbBase  string // status callback base URL
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
func (p *Provider) Name() string { return "twilio" }

// Bridge creates the outbound call.
func (p *Provider) Bridge(ctx context.Context, creds domain.TelephonyCredentials, req telephony.BridgeRequest) error {
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect></Response>`, req.JoinURL)

	form := url.Values{}
	form.Set("From", req.FromPhone)
	form.Set("To", req.ToPhone)
	form.Set("Twiml", twiml)
	form.Set("StatusCallback", telephony.StatusCallbackURL(p.cbBase, p.Name(), req))
	form.Set("StatusCallbackEvent", "completed")
	form.Set("MachineDetection", "Enable")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, creds.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	httpReq.SetBasicAuth(creds.AccountID, creds.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("twilio: create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("twilio: create call: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
