package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/repository"
	apperrors "github.com/acme/voice-campaign-control/pkg/errors"
)

// StartNow activates a campaign immediately, bypassing its scheduled start.
// The end-of-window check still applies on later ticks.
func (o *Orchestrator) StartNow(ctx context.Context, campaignID uuid.UUID) error {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case domain.CampaignStatusDraft, domain.CampaignStatusScheduled, domain.CampaignStatusPaused, domain.CampaignStatusPausedTime:
	case domain.CampaignStatusActive:
		o.WakeUser(c.UserID)
		return nil
	default:
		return fmt.Errorf("%w: cannot start campaign in status %s", apperrors.ErrValidation, c.Status)
	}

	started := o.now()
	reason := ""
	update := repository.StatusUpdate{PausedReason: &reason}
	if c.StartedAt == nil {
		update.StartedAt = &started
	}
	if err := o.campaigns.SetStatus(ctx, campaignID, domain.CampaignStatusActive, update); err != nil {
		return err
	}
	o.log.Info("campaign started manually", zap.String("campaign_id", campaignID.String()))
	o.WakeUser(c.UserID)
	return nil
}

// Pause suspends an active campaign. In-flight calls finish on their own;
// only new dialing stops.
func (o *Orchestrator) Pause(ctx context.Context, campaignID uuid.UUID, reason string) error {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusActive && c.Status != domain.CampaignStatusPausedTime {
		return fmt.Errorf("%w: cannot pause campaign in status %s", apperrors.ErrValidation, c.Status)
	}
	if reason == "" {
		reason = "paused by operator"
	}
	if err := o.campaigns.SetStatus(ctx, campaignID, domain.CampaignStatusPaused, repository.StatusUpdate{PausedReason: &reason}); err != nil {
		return err
	}
	o.log.Info("campaign paused", zap.String("campaign_id", campaignID.String()), zap.String("reason", reason))
	return nil
}

// Resume reactivates a paused campaign and wakes the user's dialing pass.
func (o *Orchestrator) Resume(ctx context.Context, campaignID uuid.UUID) error {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusPaused && c.Status != domain.CampaignStatusPausedTime {
		return fmt.Errorf("%w: cannot resume campaign in status %s", apperrors.ErrValidation, c.Status)
	}
	reason := ""
	started := o.now()
	if err := o.campaigns.SetStatus(ctx, campaignID, domain.CampaignStatusActive, repository.StatusUpdate{PausedReason: &reason, StartedAt: &started}); err != nil {
		return err
	}
	o.log.Info("campaign resumed", zap.String("campaign_id", campaignID.String()))
	o.WakeUser(c.UserID)
	return nil
}

// ResetUserCallState is the operator escape hatch for a wedged user: every
// in_progress contact fails, active call records drop, and the budget zeroes.
// Returns how many contacts were reset.
func (o *Orchestrator) ResetUserCallState(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := o.campaigns.ResetInProgressContacts(ctx, userID, "reset due to manual state clear")
	if err != nil {
		return 0, err
	}
	dropped := o.active.RemoveByUser(userID)
	o.budgets.Reset(userID)

	o.log.Info("user call state reset",
		zap.String("user_id", userID.String()),
		zap.Int("contacts_reset", n),
		zap.Int("records_dropped", len(dropped)))
	return n, nil
}

// ResumableCampaign annotates a paused campaign with whether its daily
// window is open right now.
type ResumableCampaign struct {
	Campaign *domain.Campaign
	InWindow bool
}

// GetResumableCampaigns lists the user's paused campaigns and whether each
// can resume inside today's window.
func (o *Orchestrator) GetResumableCampaigns(ctx context.Context, userID uuid.UUID) ([]ResumableCampaign, error) {
	now := o.now()
	var out []ResumableCampaign
	for _, status := range []domain.CampaignStatus{domain.CampaignStatusPaused, domain.CampaignStatusPausedTime} {
		campaigns, err := o.campaigns.ListByUserAndStatus(ctx, userID, domain.CampaignTypeOutbound, status)
		if err != nil {
			return nil, err
		}
		for _, c := range campaigns {
			out = append(out, ResumableCampaign{
				Campaign: c,
				InWindow: c.Schedule.CanResumeInWindow(now),
			})
		}
	}
	return out, nil
}

// CampaignContactsSummary is the per-campaign work remaining.
type CampaignContactsSummary struct {
	CampaignID uuid.UUID
	Name       string
	Status     domain.CampaignStatus
	Counts     map[domain.ContactStatus]int
}

// GetPendingContactsSummary tallies contact statuses for the user's
// unfinished campaigns.
func (o *Orchestrator) GetPendingContactsSummary(ctx context.Context, userID uuid.UUID) ([]CampaignContactsSummary, error) {
	campaigns, err := o.campaigns.ListByUser(ctx, userID, domain.CampaignTypeOutbound)
	if err != nil {
		return nil, err
	}

	var out []CampaignContactsSummary
	for _, c := range campaigns {
		if c.Status == domain.CampaignStatusCompleted {
			continue
		}
		counts, err := o.campaigns.ContactStatusCounts(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, CampaignContactsSummary{
			CampaignID: c.ID,
			Name:       c.Name,
			Status:     c.Status,
			Counts:     counts,
		})
	}
	return out, nil
}

// UserCallState is the introspection view of a user's in-memory ledger.
type UserCallState struct {
	UserID      uuid.UUID
	MaxCalls    int
	ActiveCalls int
	Processing  bool
	Records     []ActiveCallRecord
}

// GetUserCallState reports the live budget and in-flight call records.
func (o *Orchestrator) GetUserCallState(userID uuid.UUID) UserCallState {
	snap := o.budgets.Snapshot(userID)
	return UserCallState{
		UserID:      userID,
		MaxCalls:    snap.MaxCalls,
		ActiveCalls: snap.ActiveCalls,
		Processing:  snap.Processing,
		Records:     o.active.ListByUser(userID),
	}
}

// GenerateInstantCall dials the campaign's next pending contact right away,
// ignoring the time window but not the concurrency budget. Used for smoke
// tests before a campaign goes live.
func (o *Orchestrator) GenerateInstantCall(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CampaignStatusCompleted {
		return nil, fmt.Errorf("%w: campaign already completed", apperrors.ErrValidation)
	}

	if !o.budgets.TryBeginProcessing(c.UserID) {
		return nil, fmt.Errorf("%w: a dialing pass is already running for this user", apperrors.ErrConflict)
	}
	defer o.budgets.EndProcessing(c.UserID)

	settings, err := o.loadBudget(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if !o.budgets.HasFreeSlot(c.UserID) {
		return nil, fmt.Errorf("%w: concurrency budget exhausted", apperrors.ErrQuotaExceeded)
	}

	contact, err := o.claimWithRetry(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: campaign has no pending contacts", apperrors.ErrNotFound)
	}

	o.initiateCall(ctx, c, contact, settings)

	refreshed, err := o.campaigns.GetContact(ctx, contact.ID)
	if err != nil {
		return contact, nil
	}
	return refreshed, nil
}
