package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/engine"
	"github.com/acme/voice-campaign-control/internal/repository"
	"github.com/acme/voice-campaign-control/internal/telephony"
)

// initiateCall drives one claimed contact from in_progress to an in-flight
// call: validate the campaign medium, occupy a budget slot, allocate the
// engine session, record the call, and bridge the customer leg in. Any
// failure after the claim fails the contact; the claim itself is never
// rolled back to pending.
func (o *Orchestrator) initiateCall(ctx context.Context, c *domain.Campaign, contact *domain.Contact, settings *domain.UserSettings) {
	log := o.log.With(
		zap.String("campaign_id", c.ID.String()),
		zap.String("contact_id", contact.ID.String()),
		zap.String("phone", contact.PhoneNumber))

	creds, reason := o.validateMedium(c, settings)
	if reason != "" {
		log.Warn("call rejected before dialing", zap.String("reason", reason))
		o.failContact(ctx, c.ID, contact.ID, reason)
		return
	}

	// The slot and a synthetic record go in before any network call, so a
	// crash mid-initiation still leaves something for the reaper.
	if !o.budgets.AcquireSlot(c.UserID) {
		// The pass checks the budget before claiming; losing the race here
		// still has to resolve the contact.
		log.Warn("no free slot after claim")
		o.failContact(ctx, c.ID, contact.ID, "concurrency budget exhausted")
		return
	}

	pendingKey := PendingKey(c.ID, contact.ID)
	o.active.Put(ActiveCallRecord{
		Key:        pendingKey,
		UserID:     c.UserID,
		CampaignID: c.ID,
		ContactID:  contact.ID,
		StartedAt:  o.now(),
	})

	call, err := o.engine.CreateCall(ctx, engine.CreateCallRequest{
		AgentID:            c.AgentID,
		Provider:           c.Medium.Provider,
		MaxDurationSeconds: int(o.engineCfg.DefaultMaxDuration.Seconds()),
		RecordingEnabled:   o.engineCfg.RecordingEnabled,
		Tags: map[string]string{
			"campaignId": c.ID.String(),
			"contactId":  contact.ID.String(),
		},
	})
	if err != nil {
		log.Error("engine call creation failed", zap.Error(err))
		o.abortInitiation(ctx, c, contact, pendingKey, fmt.Sprintf("engine call creation failed: %v", err))
		return
	}

	o.active.Rekey(pendingKey, call.CallID)
	log = log.With(zap.String("engine_call_id", call.CallID))

	record := &domain.CallHistory{
		EngineCallID:  call.CallID,
		UserID:        c.UserID,
		AgentID:       c.AgentID,
		CampaignID:    c.ID,
		ContactID:     contact.ID,
		CustomerName:  contact.Name,
		CustomerPhone: contact.PhoneNumber,
		Status:        domain.CallHistoryInProgress,
		StartedAt:     o.now(),
	}
	if err := o.history.Create(ctx, record); err != nil {
		log.Error("call history create failed", zap.Error(err))
	}
	if err := o.campaigns.SetContactEngineRefs(ctx, contact.ID, call.CallID, call.CallID); err != nil {
		log.Error("stamp contact engine refs failed", zap.Error(err))
	}

	err = o.bridge.Bridge(ctx, c.Medium.Provider, creds, telephony.BridgeRequest{
		FromPhone:     c.Medium.FromPhone,
		ToPhone:       contact.PhoneNumber,
		JoinURL:       call.JoinURL,
		CampaignID:    c.ID,
		ContactID:     contact.ID,
		CallHistoryID: call.CallID,
	})
	if err != nil {
		log.Error("telephony bridge failed", zap.Error(err))
		o.finishHistoryFailed(ctx, call.CallID, "bridge_failed")
		o.abortInitiation(ctx, c, contact, call.CallID, fmt.Sprintf("telephony bridge failed: %v", err))
		return
	}

	log.Info("call initiated")
}

// validateMedium checks everything a call needs before a slot is spent.
// Returns the provider credentials and an empty reason on success.
func (o *Orchestrator) validateMedium(c *domain.Campaign, settings *domain.UserSettings) (domain.TelephonyCredentials, string) {
	var creds domain.TelephonyCredentials
	if c.AgentID == "" {
		return creds, "campaign has no agent"
	}
	if c.Medium == nil || c.Medium.Provider == "" {
		return creds, "campaign has no outbound medium"
	}
	if c.Medium.FromPhone == "" {
		return creds, "campaign medium has no caller id"
	}
	if !o.bridge.Has(c.Medium.Provider) {
		return creds, fmt.Sprintf("unsupported telephony provider %q", c.Medium.Provider)
	}
	creds, ok := settings.Telephony[c.Medium.Provider]
	if !ok || creds.AccountID == "" || creds.AuthToken == "" {
		return creds, fmt.Sprintf("missing %s credentials", c.Medium.Provider)
	}
	return creds, ""
}

// failContact resolves a claimed contact that never got a call: terminal
// failed, zero duration, and the campaign totals move with it.
func (o *Orchestrator) failContact(ctx context.Context, campaignID, contactID uuid.UUID, notes string) {
	applied, err := o.campaigns.FinishContact(ctx, contactID, domain.ContactStatusFailed, 0, notes)
	if err != nil {
		o.log.Error("fail contact failed", zap.String("contact_id", contactID.String()), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	if err := o.campaigns.AddTotals(ctx, campaignID, repository.TotalsDelta{Completed: 1, Failed: 1}); err != nil {
		o.log.Error("add totals failed", zap.String("campaign_id", campaignID.String()), zap.Error(err))
	}
	o.maybeCompleteCampaign(ctx, campaignID)
}

// abortInitiation unwinds a failed initiation: the record and slot go back,
// the contact fails.
func (o *Orchestrator) abortInitiation(ctx context.Context, c *domain.Campaign, contact *domain.Contact, recordKey, notes string) {
	if _, ok := o.active.Remove(recordKey); ok {
		o.budgets.ReleaseSlot(c.UserID)
	}
	o.failContact(ctx, c.ID, contact.ID, notes)
}

func (o *Orchestrator) finishHistoryFailed(ctx context.Context, engineCallID, endReason string) {
	update := repository.TerminalCallUpdate{
		Status:    domain.CallHistoryFailed,
		EndedAt:   o.now(),
		EndReason: endReason,
	}
	if err := o.history.FinishCall(ctx, engineCallID, update); err != nil {
		o.log.Error("finish call history failed", zap.String("engine_call_id", engineCallID), zap.Error(err))
	}
}
