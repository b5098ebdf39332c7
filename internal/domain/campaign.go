package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType distinguishes how a campaign's calls originate.
type CampaignType string

const (
	CampaignTypeOutbound CampaignType = "outbound"
	CampaignTypeInbound  CampaignType = "inbound"
	CampaignTypeOnDemand CampaignType = "ondemand"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusPausedTime CampaignStatus = "paused_time_window"
	CampaignStatusCompleted  CampaignStatus = "completed"
)

// ContactStatus enumerates lifecycle stages for a single dialing target.
// Legal transitions: pending -> in_progress -> {completed | failed | no_answer}.
type ContactStatus string

const (
	ContactStatusPending    ContactStatus = "pending"
	ContactStatusInProgress ContactStatus = "in_progress"
	ContactStatusCompleted  ContactStatus = "completed"
	ContactStatusFailed     ContactStatus = "failed"
	ContactStatusNoAnswer   ContactStatus = "no_answer"
)

// Terminal reports whether the status is a final call outcome.
func (s ContactStatus) Terminal() bool {
	switch s {
	case ContactStatusCompleted, ContactStatusFailed, ContactStatusNoAnswer:
		return true
	}
	return false
}

// OutboundMedium is the campaign's (provider, caller id) pair.
type OutboundMedium struct {
	Provider  string
	FromPhone string
}

// Schedule defines a campaign's daily calling window.
type Schedule struct {
	ScheduledDate time.Time // calendar date; time-of-day portion ignored
	StartTime     string    // "HH:MM" wall clock in Timezone
	EndTime       string    // "HH:MM"; rolls to the next day when before StartTime
	Timezone      string    // IANA name, falls back to UTC when unknown
}

// Campaign models a named set of contacts dialed by one agent within one window.
type Campaign struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Name            string
	Type            CampaignType
	AgentID         string
	Status          CampaignStatus
	Schedule        *Schedule
	Medium          *OutboundMedium
	CompletedCalls  int
	SuccessfulCalls int
	FailedCalls     int
	PausedReason    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastProcessedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Contact is one outbound dialing target inside a campaign.
type Contact struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	Name          string
	PhoneNumber   string // E.164
	Position      int    // insertion order; contacts are dialed ascending
	CallStatus    ContactStatus
	EngineCallID  string
	CallHistoryID string
	CalledAt      *time.Time
	CallDuration  int // seconds
	CallNotes     string
	CreatedAt     time.Time
}

// TelephonyCredentials are per-provider account credentials owned by a user.
type TelephonyCredentials struct {
	AccountID string
	AuthToken string
}

// UserSettings carries per-user operator configuration.
type UserSettings struct {
	UserID             uuid.UUID
	MaxConcurrentCalls int
	Telephony          map[string]TelephonyCredentials // keyed by provider tag
}

// CallHistoryStatus enumerates terminal and non-terminal call record states.
type CallHistoryStatus string

const (
	CallHistoryInProgress CallHistoryStatus = "in_progress"
	CallHistoryCompleted  CallHistoryStatus = "completed"
	CallHistoryFailed     CallHistoryStatus = "failed"
	CallHistoryNoAnswer   CallHistoryStatus = "no_answer"
)

// Terminal reports whether the record has reached a final state.
func (s CallHistoryStatus) Terminal() bool {
	return s == CallHistoryCompleted || s == CallHistoryFailed || s == CallHistoryNoAnswer
}

// CallHistory is one row per initiated call, keyed by the engine's call id.
type CallHistory struct {
	EngineCallID  string
	UserID        uuid.UUID
	AgentID       string
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	CustomerName  string
	CustomerPhone string
	Status        CallHistoryStatus
	StartedAt     time.Time
	JoinedAt      *time.Time
	EndedAt       *time.Time
	Duration      int // seconds
	EndReason     string
	BilledSeconds int
	Summary       string
	ShortSummary  string
	RecordingURL  string
}

// HistoryStatusFor maps a contact outcome onto the call history status.
func HistoryStatusFor(outcome ContactStatus) CallHistoryStatus {
	switch outcome {
	case ContactStatusCompleted:
		return CallHistoryCompleted
	case ContactStatusNoAnswer:
		return CallHistoryNoAnswer
	default:
		return CallHistoryFailed
	}
}

// BilledSecondsFor rounds a call duration up to whole minutes, with a one
// minute minimum whenever any time was spent on the call.
func BilledSecondsFor(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := (durationSeconds + 59) / 60
	return minutes * 60
}
