package scheduler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/queue"
	"github.com/acme/voice-campaign-control/internal/repository"
	"github.com/acme/voice-campaign-control/internal/webhook"
)

// HandleCallTerminated applies one normalized terminal event. The call
// history record is the idempotence gate: a record that is already terminal
// means this event was applied before, and the whole reduction is skipped.
// Slot release is tied to active-record removal so duplicates and events for
// already-reaped calls can never drive the budget negative.
func (o *Orchestrator) HandleCallTerminated(ctx context.Context, ev webhook.CallTerminated) error {
	log := o.log.With(
		zap.String("engine_call_id", ev.EngineCallID),
		zap.String("source", ev.Source),
		zap.String("end_reason", ev.EndReason))

	record, err := o.history.GetByEngineCallID(ctx, ev.EngineCallID)
	if errors.Is(err, repository.ErrNotFound) {
		// Late webhook for a call the reaper already resolved, or an id we
		// never issued. Nothing to unwind.
		log.Warn("terminal event for unknown call")
		return nil
	}
	if err != nil {
		return err
	}

	if record.Status.Terminal() {
		log.Debug("duplicate terminal event ignored")
		if _, ok := o.active.Remove(ev.EngineCallID); ok {
			o.budgets.ReleaseSlot(record.UserID)
		}
		return nil
	}

	// The history record is authoritative for correlation; webhook query
	// parameters only located the record.
	campaignID := record.CampaignID
	contactID := record.ContactID

	duration := ev.Duration
	joinedAt := ev.JoinedAt
	if joinedAt == nil {
		joinedAt = record.JoinedAt
	}
	if duration == 0 && joinedAt != nil && ev.EndedAt != nil && ev.EndedAt.After(*joinedAt) {
		duration = int(ev.EndedAt.Sub(*joinedAt).Seconds())
	}

	outcome := ev.Outcome
	requeue := o.cfg.RequeueBusy && ev.EndReason == "busy"
	billed := domain.BilledSecondsFor(duration)

	endedAt := o.now()
	if ev.EndedAt != nil {
		endedAt = *ev.EndedAt
	}
	update := repository.TerminalCallUpdate{
		Status:        domain.HistoryStatusFor(outcome),
		EndedAt:       endedAt,
		Duration:      duration,
		EndReason:     ev.EndReason,
		BilledSeconds: billed,
		Summary:       ev.Summary,
		ShortSummary:  ev.ShortSummary,
		RecordingURL:  ev.RecordingURL,
	}
	if err := o.history.FinishCall(ctx, ev.EngineCallID, update); err != nil {
		log.Error("finish call history failed", zap.Error(err))
	}

	applied := false
	if requeue {
		if err := o.campaigns.ReturnContactToPending(ctx, contactID); err != nil {
			log.Error("requeue busy contact failed", zap.Error(err))
		} else {
			log.Info("busy contact requeued")
		}
	} else {
		notes := ev.ShortSummary
		if notes == "" {
			notes = ev.EndReason
		}
		applied, err = o.campaigns.FinishContact(ctx, contactID, outcome, duration, notes)
		if err != nil {
			log.Error("finish contact failed", zap.Error(err))
		}
	}

	// Free the slot exactly once, under either key the call may be known by.
	released := false
	if _, ok := o.active.Remove(ev.EngineCallID); ok {
		released = true
	} else if _, ok := o.active.Remove(PendingKey(campaignID, contactID)); ok {
		released = true
	}
	if released {
		o.budgets.ReleaseSlot(record.UserID)
	}

	if applied {
		delta := repository.TotalsDelta{Completed: 1}
		switch outcome {
		case domain.ContactStatusCompleted:
			delta.Successful = 1
		case domain.ContactStatusFailed:
			delta.Failed = 1
		}
		if err := o.campaigns.AddTotals(ctx, campaignID, delta); err != nil {
			log.Error("add totals failed", zap.Error(err))
		}
		o.maybeCompleteCampaign(ctx, campaignID)
	}

	o.publishCallEvent(ctx, record, update, campaignID, contactID, ev.Source)

	log.Info("call terminated",
		zap.String("outcome", string(outcome)),
		zap.Int("duration", duration),
		zap.Int("billed_seconds", billed))

	o.WakeUser(record.UserID)
	return nil
}

// publishCallEvent emits the terminal record to Kafka, best effort.
func (o *Orchestrator) publishCallEvent(ctx context.Context, record *domain.CallHistory, update repository.TerminalCallUpdate, campaignID, contactID uuid.UUID, source string) {
	if o.events == nil {
		return
	}
	ev := queue.CallEvent{
		EngineCallID:  record.EngineCallID,
		UserID:        record.UserID,
		CampaignID:    campaignID,
		ContactID:     contactID,
		Status:        update.Status,
		EndReason:     update.EndReason,
		Duration:      update.Duration,
		BilledSeconds: update.BilledSeconds,
		Source:        source,
		OccurredAt:    update.EndedAt,
	}
	if err := o.events.PublishCallEvent(ctx, ev); err != nil {
		o.log.Warn("publish call event failed",
			zap.String("engine_call_id", record.EngineCallID), zap.Error(err))
	}
}
