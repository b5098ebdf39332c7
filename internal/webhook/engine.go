package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
)

// Engine event names.
const (
	EngineCallStarted = "call.started"
	EngineCallJoined  = "call.joined"
	EngineCallEnded   = "call.ended"
	EngineCallBilled  = "call.billed"
)

// EngineEvent is the voice engine's webhook payload.
type EngineEvent struct {
	Event string     `json:"event"`
	Call  EngineCall `json:"call"`
}

// EngineCall is the call body inside an engine event.
type EngineCall struct {
	ID           string            `json:"id"`
	EndReason    string            `json:"end_reason"`
	StartedAt    *time.Time        `json:"started_at"`
	JoinedAt     *time.Time        `json:"joined_at"`
	EndedAt      *time.Time        `json:"ended_at"`
	Summary      string            `json:"summary"`
	ShortSummary string            `json:"short_summary"`
	RecordingURL string            `json:"recording_url"`
	Tags         map[string]string `json:"tags"`
}

// Terminal reports whether the event carries a final call outcome.
func (e EngineEvent) Terminal() bool {
	return e.Event == EngineCallEnded || e.Event == EngineCallBilled
}

// Normalize projects the engine event onto the common terminal event.
func (e EngineEvent) Normalize() CallTerminated {
	ev := CallTerminated{
		EngineCallID:  e.Call.ID,
		CallHistoryID: e.Call.ID,
		Outcome:       engineOutcome(e.Call.EndReason),
		EndReason:     e.Call.EndReason,
		JoinedAt:      e.Call.JoinedAt,
		EndedAt:       e.Call.EndedAt,
		Summary:       e.Call.Summary,
		ShortSummary:  e.Call.ShortSummary,
		RecordingURL:  e.Call.RecordingURL,
		Source:        "engine",
	}
	if e.Call.JoinedAt != nil && e.Call.EndedAt != nil && e.Call.EndedAt.After(*e.Call.JoinedAt) {
		ev.Duration = int(e.Call.EndedAt.Sub(*e.Call.JoinedAt) / time.Second)
	}
	if id, err := uuid.Parse(e.Call.Tags["campaignId"]); err == nil {
		ev.CampaignID = id
	}
	if id, err := uuid.Parse(e.Call.Tags["contactId"]); err == nil {
		ev.ContactID = id
	}
	return ev
}

func engineOutcome(endReason string) domain.ContactStatus {
	switch endReason {
	case "hangup", "agent_hangup":
		return domain.ContactStatusCompleted
	case "unjoined", "timeout":
		return domain.ContactStatusNoAnswer
	case "connection_error", "system_error":
		return domain.ContactStatusFailed
	default:
		return domain.ContactStatusFailed
	}
}

// VerifySignature checks the HMAC-SHA256 of the raw request body against the
// hex signature header. An empty secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
