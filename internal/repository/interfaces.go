package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
	apperrors "github.com/acme/voice-campaign-control/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a concurrent-update conflict.
	ErrConflict = apperrors.ErrConflict
)

// StatusUpdate carries the optional fields written alongside a campaign
// status transition. Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	PausedReason    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastProcessedAt *time.Time
}

// TotalsDelta increments campaign call counters.
type TotalsDelta struct {
	Completed  int
	Successful int
	Failed     int
}

// CampaignStore is the durable source of truth for campaigns and contacts.
type CampaignStore interface {
	Create(ctx context.Context, campaign *domain.Campaign, contacts []domain.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListByStatus(ctx context.Context, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error)
	ListByUserAndStatus(ctx context.Context, userID uuid.UUID, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error)
	ListByUser(ctx context.Context, userID uuid.UUID, campaignType domain.CampaignType) ([]*domain.Campaign, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, update StatusUpdate) error
	TouchProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	AddTotals(ctx context.Context, id uuid.UUID, delta TotalsDelta) error

	// ClaimPendingContact atomically moves the first pending contact of the
	// campaign to in_progress and stamps called_at. Returns (nil, nil) when
	// the campaign has no pending contact. This is the only legal path out
	// of the pending state.
	ClaimPendingContact(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error)

	GetContact(ctx context.Context, contactID uuid.UUID) (*domain.Contact, error)
	ListContacts(ctx context.Context, campaignID uuid.UUID, status domain.ContactStatus, limit int) ([]domain.Contact, error)
	SetContactEngineRefs(ctx context.Context, contactID uuid.UUID, engineCallID, callHistoryID string) error

	// FinishContact transitions an in_progress contact to the given terminal
	// status. Returns false without error when the contact was not
	// in_progress, which makes terminal webhooks idempotent.
	FinishContact(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus, durationSeconds int, notes string) (bool, error)

	// ReturnContactToPending puts an in_progress contact back in the queue.
	// Used only by the busy-requeue knob.
	ReturnContactToPending(ctx context.Context, contactID uuid.UUID) error

	ContactStatusCounts(ctx context.Context, campaignID uuid.UUID) (map[domain.ContactStatus]int, error)
	CountInProgressByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// ResetInProgressContacts fails every in_progress contact across the
	// user's outbound campaigns and returns how many were reset.
	ResetInProgressContacts(ctx context.Context, userID uuid.UUID, notes string) (int, error)
}

// UserSettingsStore reads per-user operator configuration.
type UserSettingsStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error)
}

// TerminalCallUpdate carries the fields written when a call record reaches a
// terminal state.
type TerminalCallUpdate struct {
	Status        domain.CallHistoryStatus
	EndedAt       time.Time
	Duration      int
	EndReason     string
	BilledSeconds int
	Summary       string
	ShortSummary  string
	RecordingURL  string
}

// CallHistoryStore persists one record per initiated call, keyed by the
// voice engine's call id.
type CallHistoryStore interface {
	Create(ctx context.Context, record *domain.CallHistory) error
	GetByEngineCallID(ctx context.Context, engineCallID string) (*domain.CallHistory, error)
	MarkJoined(ctx context.Context, engineCallID string, joinedAt time.Time) error
	FinishCall(ctx context.Context, engineCallID string, update TerminalCallUpdate) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CallHistory, error)
}
