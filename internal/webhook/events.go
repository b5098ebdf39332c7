// Package webhook normalizes end-of-call events from the voice engine and
// each telephony provider onto a single CallTerminated event. The payload
// shapes share no schema; each source gets its own type plus a Normalize
// projection.
package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
)

// CallTerminated is the normalized terminal event applied by the scheduler.
type CallTerminated struct {
	EngineCallID  string
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	CallHistoryID string
	Outcome       domain.ContactStatus // completed, failed or no_answer
	EndReason     string
	Duration      int // provider-reported seconds; 0 when unknown
	JoinedAt      *time.Time
	EndedAt       *time.Time
	Summary       string
	ShortSummary  string
	RecordingURL  string
	Source        string // engine, twilio, plivo, telnyx
}

// Correlation carries the tags a telephony status callback delivers as
// query parameters.
type Correlation struct {
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	CallHistoryID string
}

// ParseCorrelation reads the correlation query parameters. Unparsable ids
// come back as uuid.Nil; the reducer falls back to the call history row.
func ParseCorrelation(campaignID, contactID, callHistoryID string) Correlation {
	c := Correlation{CallHistoryID: callHistoryID}
	if id, err := uuid.Parse(campaignID); err == nil {
		c.CampaignID = id
	}
	if id, err := uuid.Parse(contactID); err == nil {
		c.ContactID = id
	}
	return c
}
