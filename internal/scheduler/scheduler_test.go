package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/config"
	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/webhook"
	apperrors "github.com/acme/voice-campaign-control/pkg/errors"
	"github.com/acme/voice-campaign-control/pkg/logger"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store     *memCampaignStore
	settings  *memSettingsStore
	history   *memHistoryStore
	eng       *fakeEngine
	bridge    *fakeBridge
	publisher *capturePublisher
	clock     *testClock
	orch      *Orchestrator
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	f := &fixture{
		store:     newMemCampaignStore(),
		settings:  newMemSettingsStore(),
		history:   newMemHistoryStore(),
		eng:       &fakeEngine{},
		bridge:    newFakeBridge("twilio", "plivo", "telnyx"),
		publisher: &capturePublisher{},
		clock:     &testClock{t: now},
	}

	f.orch = New(Options{
		Config: config.SchedulerConfig{
			TickInterval:       30 * time.Second,
			StaleCallThreshold: 15 * time.Minute,
			// Long enough that webhook wakeups never fire mid-test.
			WakeDelay:    time.Hour,
			ClaimRetries: 3,
		},
		Engine: config.EngineConfig{
			DefaultMaxDuration: 10 * time.Minute,
		},
		Logger:       lg,
		Campaigns:    f.store,
		Settings:     f.settings,
		History:      f.history,
		EngineClient: f.eng,
		Bridge:       f.bridge,
		Events:       f.publisher,
		Now:          f.clock.Now,
	})
	return f
}

func (f *fixture) addUser(maxCalls int) uuid.UUID {
	userID := uuid.New()
	f.settings.put(&domain.UserSettings{
		UserID:             userID,
		MaxConcurrentCalls: maxCalls,
		Telephony: map[string]domain.TelephonyCredentials{
			"twilio": {AccountID: "AC123", AuthToken: "token"},
			"plivo":  {AccountID: "MA123", AuthToken: "token"},
		},
	})
	return userID
}

func (f *fixture) addCampaign(t *testing.T, userID uuid.UUID, status domain.CampaignStatus, schedule *domain.Schedule, provider string, numContacts int) uuid.UUID {
	t.Helper()
	created := f.clock.Now().Add(-time.Hour)
	campaign := &domain.Campaign{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      "campaign-" + uuid.NewString()[:8],
		Type:      domain.CampaignTypeOutbound,
		AgentID:   "agent-1",
		Status:    status,
		Schedule:  schedule,
		Medium:    &domain.OutboundMedium{Provider: provider, FromPhone: "+15550100000"},
		CreatedAt: created,
	}
	contacts := make([]domain.Contact, 0, numContacts)
	for i := 0; i < numContacts; i++ {
		contacts = append(contacts, domain.Contact{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			Name:        "contact",
			PhoneNumber: "+15550200000",
			Position:    i,
			CallStatus:  domain.ContactStatusPending,
			CreatedAt:   created,
		})
	}
	if err := f.store.Create(context.Background(), campaign, contacts); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return campaign.ID
}

func daySchedule(day time.Time, start, end string) *domain.Schedule {
	return &domain.Schedule{
		ScheduledDate: day,
		StartTime:     start,
		EndTime:       end,
		Timezone:      "UTC",
	}
}

func engineEnded(callID, endReason string, joined, ended time.Time) webhook.CallTerminated {
	return webhook.EngineEvent{
		Event: webhook.EngineCallEnded,
		Call: webhook.EngineCall{
			ID:        callID,
			EndReason: endReason,
			JoinedAt:  &joined,
			EndedAt:   &ended,
		},
	}.Normalize()
}

func (f *fixture) contactsByStatus(t *testing.T, campaignID uuid.UUID) map[domain.ContactStatus]int {
	t.Helper()
	counts, err := f.store.ContactStatusCounts(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	return counts
}

func TestDialThenCompleteCall(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 2)

	f.orch.ProcessUserCalls(ctx, userID)

	if got := f.eng.callCount(); got != 1 {
		t.Fatalf("engine calls = %d, want 1 (budget of one)", got)
	}
	if got := f.bridge.requestCount(); got != 1 {
		t.Fatalf("bridge calls = %d, want 1", got)
	}
	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusInProgress] != 1 || counts[domain.ContactStatusPending] != 1 {
		t.Fatalf("unexpected contact counts: %v", counts)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 1 {
		t.Fatalf("active calls = %d, want 1", state.ActiveCalls)
	}

	record, err := f.history.GetByEngineCallID(ctx, "EC1")
	if err != nil {
		t.Fatalf("history record: %v", err)
	}
	if record.Status != domain.CallHistoryInProgress {
		t.Fatalf("history status = %v, want in_progress", record.Status)
	}

	joined := now.Add(5 * time.Second)
	ended := joined.Add(170 * time.Second)
	if err := f.orch.HandleCallTerminated(ctx, engineEnded("EC1", "hangup", joined, ended)); err != nil {
		t.Fatalf("handle terminated: %v", err)
	}

	record, _ = f.history.GetByEngineCallID(ctx, "EC1")
	if record.Status != domain.CallHistoryCompleted {
		t.Fatalf("history status = %v, want completed", record.Status)
	}
	if record.Duration != 170 {
		t.Fatalf("duration = %d, want 170", record.Duration)
	}
	if record.BilledSeconds != 180 {
		t.Fatalf("billed = %d, want 180 (rounded up to whole minutes)", record.BilledSeconds)
	}

	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.CompletedCalls != 1 || campaign.SuccessfulCalls != 1 || campaign.FailedCalls != 0 {
		t.Fatalf("totals = %d/%d/%d, want 1/1/0", campaign.CompletedCalls, campaign.SuccessfulCalls, campaign.FailedCalls)
	}
	if campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("campaign status = %v, one contact still pending", campaign.Status)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 {
		t.Fatalf("active calls = %d after terminal, want 0", state.ActiveCalls)
	}
	if f.publisher.count() != 1 {
		t.Fatalf("published events = %d, want 1", f.publisher.count())
	}

	// Second contact dials on the next pass and its completion finishes the
	// campaign.
	f.orch.ProcessUserCalls(ctx, userID)
	if got := f.eng.callCount(); got != 2 {
		t.Fatalf("engine calls = %d, want 2", got)
	}
	if err := f.orch.HandleCallTerminated(ctx, engineEnded("EC2", "hangup", joined, ended)); err != nil {
		t.Fatalf("handle terminated: %v", err)
	}
	campaign, _ = f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusCompleted {
		t.Fatalf("campaign status = %v, want completed", campaign.Status)
	}
	if campaign.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
}

func TestBudgetSharedRoundRobinAcrossCampaigns(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(2)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	first := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 2)
	second := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 2)

	f.orch.ProcessUserCalls(ctx, userID)

	if got := f.eng.callCount(); got != 2 {
		t.Fatalf("engine calls = %d, want 2 (budget cap)", got)
	}
	for _, id := range []uuid.UUID{first, second} {
		counts := f.contactsByStatus(t, id)
		if counts[domain.ContactStatusInProgress] != 1 {
			t.Fatalf("campaign %s in_progress = %d, want 1 (round robin)", id, counts[domain.ContactStatusInProgress])
		}
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 2 {
		t.Fatalf("active calls = %d, want 2", state.ActiveCalls)
	}

	// No more dialing while the budget is saturated.
	f.orch.ProcessUserCalls(ctx, userID)
	if got := f.eng.callCount(); got != 2 {
		t.Fatalf("engine calls = %d after saturated pass, want 2", got)
	}
}

func TestProviderNoAnswerThenLateEngineEvent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 1)

	f.orch.ProcessUserCalls(ctx, userID)

	status := webhook.TwilioStatus{CallSid: "CA1", CallStatus: "no-answer", CallDuration: "0"}
	corr := webhook.Correlation{CallHistoryID: "EC1"}
	if err := f.orch.HandleCallTerminated(ctx, status.Normalize(corr)); err != nil {
		t.Fatalf("handle terminated: %v", err)
	}

	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusNoAnswer] != 1 {
		t.Fatalf("contact counts = %v, want one no_answer", counts)
	}
	record, _ := f.history.GetByEngineCallID(ctx, "EC1")
	if record.Status != domain.CallHistoryNoAnswer || record.BilledSeconds != 0 {
		t.Fatalf("history = %v billed %d, want no_answer billed 0", record.Status, record.BilledSeconds)
	}

	// The engine's own terminal event arrives later; the terminal history
	// record makes it a no-op.
	joined := now.Add(time.Second)
	if err := f.orch.HandleCallTerminated(ctx, engineEnded("EC1", "unjoined", joined, joined)); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}

	counts = f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusNoAnswer] != 1 {
		t.Fatalf("contact flipped on duplicate: %v", counts)
	}
	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.CompletedCalls != 1 {
		t.Fatalf("totals double counted: %d", campaign.CompletedCalls)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 {
		t.Fatalf("active calls = %d, duplicate must not go negative", state.ActiveCalls)
	}
}

func TestDuplicateTerminalEventIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 1)

	f.orch.ProcessUserCalls(ctx, userID)

	joined := now.Add(time.Second)
	ended := joined.Add(90 * time.Second)
	ev := engineEnded("EC1", "hangup", joined, ended)
	for i := 0; i < 3; i++ {
		if err := f.orch.HandleCallTerminated(ctx, ev); err != nil {
			t.Fatalf("handle terminated %d: %v", i, err)
		}
	}

	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.CompletedCalls != 1 || campaign.SuccessfulCalls != 1 {
		t.Fatalf("totals = %d/%d, want 1/1 after duplicates", campaign.CompletedCalls, campaign.SuccessfulCalls)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 {
		t.Fatalf("active calls = %d, want 0", state.ActiveCalls)
	}
	if f.publisher.count() != 1 {
		t.Fatalf("published events = %d, want 1", f.publisher.count())
	}
}

func TestWindowCloseParksThenNextDayResumes(t *testing.T) {
	now := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "17:00"), "twilio", 2)

	f.orch.Tick(ctx)

	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusPausedTime {
		t.Fatalf("campaign status = %v, want paused_time_window", campaign.Status)
	}
	if campaign.PausedReason != PausedOutsideWindow {
		t.Fatalf("paused reason = %q", campaign.PausedReason)
	}
	if f.eng.callCount() != 0 {
		t.Fatalf("dialed outside window: %d calls", f.eng.callCount())
	}

	// The window reopens the next morning.
	f.clock.Set(time.Date(2026, 3, 3, 9, 5, 0, 0, time.UTC))
	f.orch.Tick(ctx)

	campaign, _ = f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("campaign status = %v, want active after daily resume", campaign.Status)
	}
	if campaign.StartedAt == nil || !campaign.StartedAt.Equal(f.clock.Now()) {
		t.Fatalf("started_at not stamped on daily resume: %v", campaign.StartedAt)
	}
	if f.eng.callCount() != 1 {
		t.Fatalf("engine calls = %d, want 1 after resume", f.eng.callCount())
	}
}

func TestParkedCampaignWithoutPendingIsNotResumed(t *testing.T) {
	now := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusPausedTime, daySchedule(day, "09:00", "17:00"), "twilio", 1)

	ct, err := f.store.ClaimPendingContact(ctx, campaignID)
	if err != nil || ct == nil {
		t.Fatalf("claim: %v %v", ct, err)
	}
	if _, err := f.store.FinishContact(ctx, ct.ID, domain.ContactStatusCompleted, 30, ""); err != nil {
		t.Fatalf("finish contact: %v", err)
	}

	// Window open the next morning, but no pending work remains.
	f.clock.Set(time.Date(2026, 3, 3, 9, 5, 0, 0, time.UTC))
	f.orch.Tick(ctx)

	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusPausedTime {
		t.Fatalf("campaign status = %v, want still paused_time_window", campaign.Status)
	}
	if f.eng.callCount() != 0 {
		t.Fatalf("engine calls = %d, want 0", f.eng.callCount())
	}
}

func TestWakeAfterWindowCloseDoesNotDial(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "10:00"), "twilio", 1)

	// A webhook or admin wake lands between ticks: the window closed at
	// 10:00 but no tick has parked the campaign yet.
	f.orch.ProcessUserCalls(ctx, userID)

	if f.eng.callCount() != 0 {
		t.Fatalf("dialed after window close: %d calls", f.eng.callCount())
	}
	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusPending] != 1 {
		t.Fatalf("contact counts = %v, want the contact untouched", counts)
	}

	// The next tick parks it.
	f.orch.Tick(ctx)
	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusPausedTime {
		t.Fatalf("campaign status = %v, want paused_time_window", campaign.Status)
	}
}

func TestScheduledStartRespectsGrace(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	fresh := f.addCampaign(t, userID, domain.CampaignStatusScheduled, daySchedule(day, "09:00", "18:00"), "twilio", 1)
	missed := f.addCampaign(t, userID, domain.CampaignStatusScheduled, daySchedule(day, "08:00", "18:00"), "twilio", 1)

	f.orch.Tick(ctx)

	c, _ := f.store.Get(ctx, fresh)
	if c.Status != domain.CampaignStatusActive {
		t.Fatalf("campaign 5 minutes past start = %v, want active", c.Status)
	}
	if c.StartedAt == nil {
		t.Fatalf("started_at not stamped")
	}
	c, _ = f.store.Get(ctx, missed)
	if c.Status != domain.CampaignStatusScheduled {
		t.Fatalf("campaign 65 minutes past start = %v, want still scheduled", c.Status)
	}
}

func TestStaleCallReapedAndLateWebhookIgnored(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 1)

	f.orch.ProcessUserCalls(ctx, userID)
	if f.eng.callCount() != 1 {
		t.Fatalf("engine calls = %d, want 1", f.eng.callCount())
	}

	f.clock.Set(now.Add(16 * time.Minute))
	f.orch.Tick(ctx)

	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusFailed] != 1 {
		t.Fatalf("contact counts = %v, want one failed after reap", counts)
	}
	failed, _ := f.store.ListContacts(ctx, campaignID, domain.ContactStatusFailed, 0)
	if len(failed) != 1 || failed[0].CallNotes != "call timed out" {
		t.Fatalf("reaped contact notes = %+v, want %q", failed, "call timed out")
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 || len(state.Records) != 0 {
		t.Fatalf("call state not cleared by reaper: %+v", state)
	}
	record, _ := f.history.GetByEngineCallID(ctx, "EC1")
	if record.Status != domain.CallHistoryFailed || record.EndReason != "stale_timeout" {
		t.Fatalf("history = %v/%q, want failed/stale_timeout", record.Status, record.EndReason)
	}
	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.Status != domain.CampaignStatusCompleted {
		t.Fatalf("campaign status = %v, want completed (no work left)", campaign.Status)
	}

	// A webhook limping in after the reap changes nothing.
	joined := now.Add(time.Second)
	if err := f.orch.HandleCallTerminated(ctx, engineEnded("EC1", "hangup", joined, joined.Add(30*time.Second))); err != nil {
		t.Fatalf("late webhook: %v", err)
	}
	campaign, _ = f.store.Get(ctx, campaignID)
	if campaign.CompletedCalls != 1 {
		t.Fatalf("totals double counted by late webhook: %d", campaign.CompletedCalls)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 {
		t.Fatalf("active calls went negative: %d", state.ActiveCalls)
	}
}

func TestUnknownCallWebhookIsDropped(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	ev := engineEnded("EC404", "hangup", now, now.Add(time.Minute))
	if err := f.orch.HandleCallTerminated(context.Background(), ev); err != nil {
		t.Fatalf("unknown call webhook should be swallowed: %v", err)
	}
}

func TestMissingCredentialsFailContactWithoutDialing(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// telnyx is registered but the user has no telnyx credentials.
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "telnyx", 1)

	f.orch.ProcessUserCalls(ctx, userID)

	if f.eng.callCount() != 0 {
		t.Fatalf("engine calls = %d, want 0 without credentials", f.eng.callCount())
	}
	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusFailed] != 1 {
		t.Fatalf("contact counts = %v, want one failed", counts)
	}
	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.FailedCalls != 1 {
		t.Fatalf("failed calls = %d, want 1", campaign.FailedCalls)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 {
		t.Fatalf("slot leaked on validation failure: %d", state.ActiveCalls)
	}
}

func TestEngineFailureReleasesSlot(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 1)

	f.eng.failErr = errors.New("engine down")
	f.orch.ProcessUserCalls(ctx, userID)

	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusFailed] != 1 {
		t.Fatalf("contact counts = %v, want one failed", counts)
	}
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 0 || len(state.Records) != 0 {
		t.Fatalf("slot or record leaked: %+v", state)
	}
}

func TestInstantCallHonorsBudget(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusDraft, nil, "twilio", 2)

	contact, err := f.orch.GenerateInstantCall(ctx, campaignID)
	if err != nil {
		t.Fatalf("instant call: %v", err)
	}
	if contact.CallStatus != domain.ContactStatusInProgress {
		t.Fatalf("contact status = %v, want in_progress", contact.CallStatus)
	}
	if contact.EngineCallID != "EC1" {
		t.Fatalf("engine call id = %q", contact.EngineCallID)
	}

	if _, err := f.orch.GenerateInstantCall(ctx, campaignID); !errors.Is(err, apperrors.ErrQuotaExceeded) {
		t.Fatalf("second instant call error = %v, want quota exceeded", err)
	}
}

func TestResetUserCallState(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(2)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 2)

	f.orch.ProcessUserCalls(ctx, userID)
	if state := f.orch.GetUserCallState(userID); state.ActiveCalls != 2 {
		t.Fatalf("active calls = %d, want 2", state.ActiveCalls)
	}

	n, err := f.orch.ResetUserCallState(ctx, userID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Fatalf("contacts reset = %d, want 2", n)
	}
	counts := f.contactsByStatus(t, campaignID)
	if counts[domain.ContactStatusInProgress] != 0 || counts[domain.ContactStatusFailed] != 2 {
		t.Fatalf("contact counts after reset: %v", counts)
	}
	failed, _ := f.store.ListContacts(ctx, campaignID, domain.ContactStatusFailed, 0)
	for _, ct := range failed {
		if ct.CallNotes != "reset due to manual state clear" {
			t.Fatalf("reset notes = %q, want %q", ct.CallNotes, "reset due to manual state clear")
		}
	}
	state := f.orch.GetUserCallState(userID)
	if state.ActiveCalls != 0 || len(state.Records) != 0 {
		t.Fatalf("call state not cleared: %+v", state)
	}
}

func TestPauseStopsDialingResumeRestarts(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	userID := f.addUser(1)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaignID := f.addCampaign(t, userID, domain.CampaignStatusActive, daySchedule(day, "09:00", "18:00"), "twilio", 2)

	if err := f.orch.Pause(ctx, campaignID, "operator hold"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.orch.Tick(ctx)
	if f.eng.callCount() != 0 {
		t.Fatalf("paused campaign dialed: %d calls", f.eng.callCount())
	}

	if err := f.orch.Resume(ctx, campaignID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.orch.Tick(ctx)
	if f.eng.callCount() != 1 {
		t.Fatalf("engine calls = %d after resume, want 1", f.eng.callCount())
	}
	campaign, _ := f.store.Get(ctx, campaignID)
	if campaign.PausedReason != "" {
		t.Fatalf("paused reason not cleared: %q", campaign.PausedReason)
	}
}
