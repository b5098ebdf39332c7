// Package telephony bridges real outbound calls into voice engine sessions.
// Each provider dials the customer and streams the call audio into the
// engine's join URL, reporting leg status back on a callback URL that
// carries the campaign correlation tags as query parameters.
package telephony

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
)

// BridgeRequest describes one outbound call to be streamed into a session.
type BridgeRequest struct {
	FromPhone     string
	ToPhone       string
	JoinURL       string
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	CallHistoryID string
}

// Provider places the provider-specific bridge call.
type Provider interface {
	Name() string
	Bridge(ctx context.Context, creds domain.TelephonyCredentials, req BridgeRequest) error
}

// Registry resolves providers by the campaign medium's provider tag.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Bridge dispatches to the named provider.
func (r *Registry) Bridge(ctx context.Context, provider string, creds domain.TelephonyCredentials, req BridgeRequest) error {
	p, ok := r.providers[provider]
	if !ok {
		return fmt.Errorf("telephony: unknown provider %q", provider)
	}
	return p.Bridge(ctx, creds, req)
}

// Has reports whether the provider tag is registered.
func (r *Registry) Has(provider string) bool {
	_, ok := r.providers[provider]
	return ok
}

// StatusCallbackURL builds the per-provider status callback carrying the
// correlation tags, so terminal leg events can be tied back to the contact
// even before the engine call id is known to the provider.
func StatusCallbackURL(baseURL, provider string, req BridgeRequest) string {
	q := url.Values{}
	q.Set("campaignId", req.CampaignID.String())
	q.Set("contactId", req.ContactID.String())
	q.Set("callHistoryId", req.CallHistoryID)
	return fmt.Sprintf("%s/webhook/%s/status?%s", baseURL, provider, q.Encode())
}
