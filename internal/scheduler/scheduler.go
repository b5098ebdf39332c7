// Package scheduler runs the outbound campaign control loop: it opens and
// closes campaign calling windows, claims contacts, initiates calls through
// the voice engine and a telephony bridge, and applies terminal webhook
// events back onto contacts, call history and per-user concurrency budgets.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/config"
	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/engine"
	"github.com/acme/voice-campaign-control/internal/queue"
	"github.com/acme/voice-campaign-control/internal/repository"
	"github.com/acme/voice-campaign-control/internal/telephony"
	"github.com/acme/voice-campaign-control/pkg/logger"
)

// PausedOutsideWindow is the reason stamped on campaigns parked by window close.
const PausedOutsideWindow = "outside_time_window"

// Bridger places provider bridge calls. Satisfied by *telephony.Registry.
type Bridger interface {
	Has(provider string) bool
	Bridge(ctx context.Context, provider string, creds domain.TelephonyCredentials, req telephony.BridgeRequest) error
}

// EventPublisher fans terminal call events out to downstream consumers.
// Satisfied by *queue.CallEventPublisher.
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, ev queue.CallEvent) error
}

// TickLease gates the tick so only one process instance dials at a time.
type TickLease interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Config    config.SchedulerConfig
	Engine    config.EngineConfig
	Telephony config.TelephonyConfig

	Logger    *logger.Logger
	Campaigns repository.CampaignStore
	Settings  repository.UserSettingsStore
	History   repository.CallHistoryStore

	EngineClient engine.Client
	Bridge       Bridger
	Events       EventPublisher // optional
	Lease        TickLease      // optional

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator is the campaign scheduler and call-slot orchestrator. One
// instance per process; webhook handlers and admin operations call into the
// same instance so the in-memory budgets stay consistent.
type Orchestrator struct {
	cfg       config.SchedulerConfig
	engineCfg config.EngineConfig
	teleCfg   config.TelephonyConfig

	log       *logger.Logger
	campaigns repository.CampaignStore
	settings  repository.UserSettingsStore
	history   repository.CallHistoryStore

	engine engine.Client
	bridge Bridger
	events EventPublisher
	lease  TickLease

	budgets *budgetTracker
	active  *activeCallTable

	now func() time.Time
}

// New constructs the orchestrator.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:       opts.Config,
		engineCfg: opts.Engine,
		teleCfg:   opts.Telephony,
		log:       opts.Logger,
		campaigns: opts.Campaigns,
		settings:  opts.Settings,
		history:   opts.History,
		engine:    opts.EngineClient,
		bridge:    opts.Bridge,
		events:    opts.Events,
		lease:     opts.Lease,
		budgets:   newBudgetTracker(),
		active:    newActiveCallTable(),
		now:       now,
	}
}

// Run drives the tick loop until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.log.Info("scheduler started",
		zap.Duration("tick_interval", o.cfg.TickInterval),
		zap.Duration("stale_threshold", o.cfg.StaleCallThreshold))

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: reap stale calls, open windows that became
// due, resume parked campaigns whose daily window reopened, close windows
// that ended, then dial for every user with active campaigns.
func (o *Orchestrator) Tick(ctx context.Context) {
	tracer := otel.Tracer("voicectl.scheduler")
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	if o.lease != nil {
		held, err := o.lease.TryAcquire(ctx)
		if err != nil {
			span.RecordError(err)
			o.log.Error("tick lease acquire failed", zap.Error(err))
			return
		}
		if !held {
			span.SetAttributes(attribute.Bool("lease.held", false))
			return
		}
	}

	now := o.now()
	o.reapStaleCalls(ctx, now)

	users := make(map[uuid.UUID]struct{})

	for _, c := range o.listByStatus(ctx, domain.CampaignStatusScheduled) {
		if !c.Schedule.ShouldStart(now) {
			continue
		}
		started := now
		if err := o.campaigns.SetStatus(ctx, c.ID, domain.CampaignStatusActive, repository.StatusUpdate{StartedAt: &started}); err != nil {
			o.log.Error("activate campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		o.log.Info("campaign window opened", zap.String("campaign_id", c.ID.String()), zap.String("name", c.Name))
		users[c.UserID] = struct{}{}
	}

	for _, c := range o.listByStatus(ctx, domain.CampaignStatusPausedTime) {
		if !c.Schedule.CanResumeInWindow(now) {
			continue
		}
		counts, err := o.campaigns.ContactStatusCounts(ctx, c.ID)
		if err != nil {
			o.log.Error("contact counts failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		if counts[domain.ContactStatusPending] == 0 {
			continue
		}
		reason := ""
		started := now
		if err := o.campaigns.SetStatus(ctx, c.ID, domain.CampaignStatusActive, repository.StatusUpdate{PausedReason: &reason, StartedAt: &started}); err != nil {
			o.log.Error("resume campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		o.log.Info("campaign window reopened", zap.String("campaign_id", c.ID.String()), zap.String("name", c.Name))
		users[c.UserID] = struct{}{}
	}

	for _, c := range o.listByStatus(ctx, domain.CampaignStatusActive) {
		if c.Schedule.ShouldStop(now) {
			o.closeWindow(ctx, c, now)
			continue
		}
		users[c.UserID] = struct{}{}
	}

	span.SetAttributes(attribute.Int("user.count", len(users)))

	var wg sync.WaitGroup
	for userID := range users {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			o.ProcessUserCalls(ctx, id)
		}(userID)
	}
	wg.Wait()
}

func (o *Orchestrator) listByStatus(ctx context.Context, status domain.CampaignStatus) []*domain.Campaign {
	campaigns, err := o.campaigns.ListByStatus(ctx, domain.CampaignTypeOutbound, status)
	if err != nil {
		o.log.Error("list campaigns failed", zap.String("status", string(status)), zap.Error(err))
		return nil
	}
	return campaigns
}

// closeWindow parks a campaign whose window ended, or completes it when no
// work is left.
func (o *Orchestrator) closeWindow(ctx context.Context, c *domain.Campaign, now time.Time) {
	counts, err := o.campaigns.ContactStatusCounts(ctx, c.ID)
	if err != nil {
		o.log.Error("contact counts failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		return
	}

	if counts[domain.ContactStatusPending] == 0 && counts[domain.ContactStatusInProgress] == 0 {
		completed := now
		if err := o.campaigns.SetStatus(ctx, c.ID, domain.CampaignStatusCompleted, repository.StatusUpdate{CompletedAt: &completed}); err != nil {
			o.log.Error("complete campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			return
		}
		o.log.Info("campaign completed at window close", zap.String("campaign_id", c.ID.String()))
		return
	}

	reason := PausedOutsideWindow
	if err := o.campaigns.SetStatus(ctx, c.ID, domain.CampaignStatusPausedTime, repository.StatusUpdate{PausedReason: &reason}); err != nil {
		o.log.Error("park campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		return
	}
	o.log.Info("campaign window closed",
		zap.String("campaign_id", c.ID.String()),
		zap.Int("pending", counts[domain.ContactStatusPending]),
		zap.Int("in_progress", counts[domain.ContactStatusInProgress]))
}

// ProcessUserCalls dials for one user until their budget is exhausted or no
// active campaign has pending contacts. A per-user latch serializes passes;
// a pass already running covers whatever the caller wanted.
func (o *Orchestrator) ProcessUserCalls(ctx context.Context, userID uuid.UUID) {
	if !o.budgets.TryBeginProcessing(userID) {
		return
	}
	defer o.budgets.EndProcessing(userID)

	ctx, span := otel.Tracer("voicectl.scheduler").Start(ctx, "scheduler.process_user_calls",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	settings, err := o.loadBudget(ctx, userID)
	if err != nil {
		o.log.Error("load user budget failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if !o.budgets.HasFreeSlot(userID) {
			return
		}

		campaigns, err := o.campaigns.ListByUserAndStatus(ctx, userID, domain.CampaignTypeOutbound, domain.CampaignStatusActive)
		if err != nil {
			o.log.Error("list active campaigns failed", zap.String("user_id", userID.String()), zap.Error(err))
			return
		}
		if len(campaigns) == 0 {
			return
		}

		// One claim per campaign per round, starting at the rotation
		// point, so campaigns share the budget fairly.
		start := o.budgets.NextRotation(userID, len(campaigns))
		progressed := false
		for i := 0; i < len(campaigns); i++ {
			if !o.budgets.HasFreeSlot(userID) {
				return
			}
			c := campaigns[(start+i)%len(campaigns)]

			// Wakes from webhooks and admin operations land between
			// ticks; a window that closed since the last tick must not
			// dial before the tick parks it.
			if c.Schedule.ShouldStop(o.now()) {
				continue
			}

			contact, err := o.claimWithRetry(ctx, c.ID)
			if err != nil {
				o.log.Error("claim contact failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
				continue
			}
			if contact == nil {
				o.maybeCompleteCampaign(ctx, c.ID)
				continue
			}

			o.initiateCall(ctx, c, contact, settings)
			progressed = true

			if err := o.campaigns.TouchProcessed(ctx, c.ID, o.now()); err != nil {
				o.log.Warn("stamp last processed failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			}
		}
		if !progressed {
			return
		}
	}
}

// loadBudget seeds the user's in-memory ledger on first touch from their
// settings cap and the durable in_progress count, then refreshes the cap on
// every pass.
func (o *Orchestrator) loadBudget(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	settings, err := o.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !o.budgets.Loaded(userID) {
		inProgress, err := o.campaigns.CountInProgressByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		o.budgets.Load(userID, settings.MaxConcurrentCalls, inProgress)
	} else {
		o.budgets.SetMax(userID, settings.MaxConcurrentCalls)
	}
	return settings, nil
}

func (o *Orchestrator) claimWithRetry(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.ClaimRetries; attempt++ {
		contact, err := o.campaigns.ClaimPendingContact(ctx, campaignID)
		if err == nil {
			return contact, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// maybeCompleteCampaign completes a campaign with no pending and no
// in-flight contacts. Called when a claim comes back empty and after each
// terminal event.
func (o *Orchestrator) maybeCompleteCampaign(ctx context.Context, campaignID uuid.UUID) {
	counts, err := o.campaigns.ContactStatusCounts(ctx, campaignID)
	if err != nil {
		o.log.Error("contact counts failed", zap.String("campaign_id", campaignID.String()), zap.Error(err))
		return
	}
	if counts[domain.ContactStatusPending] > 0 || counts[domain.ContactStatusInProgress] > 0 {
		return
	}

	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		o.log.Error("get campaign failed", zap.String("campaign_id", campaignID.String()), zap.Error(err))
		return
	}
	if c.Status != domain.CampaignStatusActive && c.Status != domain.CampaignStatusPausedTime {
		return
	}

	completed := o.now()
	if err := o.campaigns.SetStatus(ctx, campaignID, domain.CampaignStatusCompleted, repository.StatusUpdate{CompletedAt: &completed}); err != nil {
		o.log.Error("complete campaign failed", zap.String("campaign_id", campaignID.String()), zap.Error(err))
		return
	}
	o.log.Info("campaign completed", zap.String("campaign_id", campaignID.String()), zap.String("name", c.Name))
}

// WakeUser schedules a processing pass for the user shortly after a slot
// frees up. The small delay batches bursts of terminal webhooks into one pass.
func (o *Orchestrator) WakeUser(userID uuid.UUID) {
	delay := o.cfg.WakeDelay
	if delay <= 0 {
		delay = time.Second
	}
	time.AfterFunc(delay, func() {
		o.ProcessUserCalls(context.Background(), userID)
	})
}

// MarkCallJoined stamps the customer-joined instant on the call record.
func (o *Orchestrator) MarkCallJoined(ctx context.Context, engineCallID string, joinedAt time.Time) error {
	return o.history.MarkJoined(ctx, engineCallID, joinedAt)
}
