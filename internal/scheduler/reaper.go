package scheduler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// reapStaleCalls resolves calls whose terminal webhook never arrived. Every
// record past the threshold loses its slot and its contact fails; a webhook
// landing later finds the history record terminal and becomes a no-op.
func (o *Orchestrator) reapStaleCalls(ctx context.Context, now time.Time) {
	expired := o.active.Expired(now, o.cfg.StaleCallThreshold)
	for _, rec := range expired {
		o.budgets.ReleaseSlot(rec.UserID)

		o.log.Warn("reaping stale call",
			zap.String("key", rec.Key),
			zap.String("campaign_id", rec.CampaignID.String()),
			zap.String("contact_id", rec.ContactID.String()),
			zap.Duration("age", now.Sub(rec.StartedAt)))

		// Records still under their synthetic pending key never got an
		// engine call; there is no history row to finish.
		if rec.EngineCallID != "" && !strings.HasPrefix(rec.Key, "pending_") {
			o.finishHistoryFailed(ctx, rec.EngineCallID, "stale_timeout")
		}

		o.failContact(ctx, rec.CampaignID, rec.ContactID, "call timed out")
	}
}
