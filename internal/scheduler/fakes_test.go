package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/engine"
	"github.com/acme/voice-campaign-control/internal/queue"
	"github.com/acme/voice-campaign-control/internal/repository"
	"github.com/acme/voice-campaign-control/internal/telephony"
)

// memCampaignStore is an in-memory repository.CampaignStore.
type memCampaignStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
	contacts  map[uuid.UUID]*domain.Contact
}

func newMemCampaignStore() *memCampaignStore {
	return &memCampaignStore{
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		contacts:  make(map[uuid.UUID]*domain.Contact),
	}
}

func (s *memCampaignStore) Create(_ context.Context, campaign *domain.Campaign, contacts []domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *campaign
	s.campaigns[c.ID] = &c
	for i := range contacts {
		ct := contacts[i]
		s.contacts[ct.ID] = &ct
	}
	return nil
}

func (s *memCampaignStore) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *memCampaignStore) ListByStatus(_ context.Context, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range s.campaigns {
		if c.Type == campaignType && c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCampaigns(out)
	return out, nil
}

func (s *memCampaignStore) ListByUserAndStatus(_ context.Context, userID uuid.UUID, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range s.campaigns {
		if c.UserID == userID && c.Type == campaignType && c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCampaigns(out)
	return out, nil
}

func (s *memCampaignStore) ListByUser(_ context.Context, userID uuid.UUID, campaignType domain.CampaignType) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range s.campaigns {
		if c.UserID == userID && c.Type == campaignType {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCampaigns(out)
	return out, nil
}

func sortCampaigns(campaigns []*domain.Campaign) {
	sort.Slice(campaigns, func(i, j int) bool {
		if campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
			return campaigns[i].ID.String() < campaigns[j].ID.String()
		}
		return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
	})
}

func (s *memCampaignStore) SetStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus, update repository.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	if update.PausedReason != nil {
		c.PausedReason = *update.PausedReason
	}
	if update.StartedAt != nil {
		t := *update.StartedAt
		c.StartedAt = &t
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		c.CompletedAt = &t
	}
	if update.LastProcessedAt != nil {
		t := *update.LastProcessedAt
		c.LastProcessedAt = &t
	}
	return nil
}

func (s *memCampaignStore) TouchProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	c.LastProcessedAt = &t
	return nil
}

func (s *memCampaignStore) AddTotals(_ context.Context, id uuid.UUID, delta repository.TotalsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.CompletedCalls += delta.Completed
	c.SuccessfulCalls += delta.Successful
	c.FailedCalls += delta.Failed
	return nil
}

func (s *memCampaignStore) ClaimPendingContact(_ context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Contact
	for _, ct := range s.contacts {
		if ct.CampaignID != campaignID || ct.CallStatus != domain.ContactStatusPending {
			continue
		}
		if best == nil || ct.Position < best.Position {
			best = ct
		}
	}
	if best == nil {
		return nil, nil
	}
	best.CallStatus = domain.ContactStatusInProgress
	now := time.Now()
	best.CalledAt = &now
	out := *best
	return &out, nil
}

func (s *memCampaignStore) GetContact(_ context.Context, contactID uuid.UUID) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.contacts[contactID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *ct
	return &out, nil
}

func (s *memCampaignStore) ListContacts(_ context.Context, campaignID uuid.UUID, status domain.ContactStatus, limit int) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Contact
	for _, ct := range s.contacts {
		if ct.CampaignID != campaignID {
			continue
		}
		if status != "" && ct.CallStatus != status {
			continue
		}
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memCampaignStore) SetContactEngineRefs(_ context.Context, contactID uuid.UUID, engineCallID, callHistoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	ct.EngineCallID = engineCallID
	ct.CallHistoryID = callHistoryID
	return nil
}

func (s *memCampaignStore) FinishContact(_ context.Context, contactID uuid.UUID, status domain.ContactStatus, durationSeconds int, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.contacts[contactID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if ct.CallStatus != domain.ContactStatusInProgress {
		return false, nil
	}
	ct.CallStatus = status
	ct.CallDuration = durationSeconds
	ct.CallNotes = notes
	return true, nil
}

func (s *memCampaignStore) ReturnContactToPending(_ context.Context, contactID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	if ct.CallStatus == domain.ContactStatusInProgress {
		ct.CallStatus = domain.ContactStatusPending
		ct.EngineCallID = ""
		ct.CallHistoryID = ""
	}
	return nil
}

func (s *memCampaignStore) ContactStatusCounts(_ context.Context, campaignID uuid.UUID) (map[domain.ContactStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.ContactStatus]int)
	for _, ct := range s.contacts {
		if ct.CampaignID == campaignID {
			counts[ct.CallStatus]++
		}
	}
	return counts, nil
}

func (s *memCampaignStore) CountInProgressByUser(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ct := range s.contacts {
		c, ok := s.campaigns[ct.CampaignID]
		if !ok || c.UserID != userID {
			continue
		}
		if c.Status == domain.CampaignStatusActive && ct.CallStatus == domain.ContactStatusInProgress {
			n++
		}
	}
	return n, nil
}

func (s *memCampaignStore) ResetInProgressContacts(_ context.Context, userID uuid.UUID, notes string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ct := range s.contacts {
		c, ok := s.campaigns[ct.CampaignID]
		if !ok || c.UserID != userID {
			continue
		}
		if ct.CallStatus == domain.ContactStatusInProgress {
			ct.CallStatus = domain.ContactStatusFailed
			ct.CallNotes = notes
			n++
		}
	}
	return n, nil
}

// memSettingsStore is an in-memory repository.UserSettingsStore.
type memSettingsStore struct {
	mu       sync.Mutex
	settings map[uuid.UUID]*domain.UserSettings
}

func newMemSettingsStore() *memSettingsStore {
	return &memSettingsStore{settings: make(map[uuid.UUID]*domain.UserSettings)}
}

func (s *memSettingsStore) put(settings *domain.UserSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.UserID] = settings
}

func (s *memSettingsStore) Get(_ context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.settings[userID]; ok {
		out := *st
		return &out, nil
	}
	return &domain.UserSettings{UserID: userID, MaxConcurrentCalls: 1}, nil
}

// memHistoryStore is an in-memory repository.CallHistoryStore.
type memHistoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.CallHistory
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{records: make(map[string]*domain.CallHistory)}
}

func (s *memHistoryStore) Create(_ context.Context, record *domain.CallHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *record
	s.records[record.EngineCallID] = &r
	return nil
}

func (s *memHistoryStore) GetByEngineCallID(_ context.Context, engineCallID string) (*domain.CallHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[engineCallID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *memHistoryStore) MarkJoined(_ context.Context, engineCallID string, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[engineCallID]
	if !ok {
		return repository.ErrNotFound
	}
	t := joinedAt
	r.JoinedAt = &t
	return nil
}

func (s *memHistoryStore) FinishCall(_ context.Context, engineCallID string, update repository.TerminalCallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[engineCallID]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = update.Status
	t := update.EndedAt
	r.EndedAt = &t
	r.Duration = update.Duration
	r.EndReason = update.EndReason
	r.BilledSeconds = update.BilledSeconds
	r.Summary = update.Summary
	r.ShortSummary = update.ShortSummary
	r.RecordingURL = update.RecordingURL
	return nil
}

func (s *memHistoryStore) ListByCampaign(_ context.Context, campaignID uuid.UUID, limit int) ([]domain.CallHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CallHistory
	for _, r := range s.records {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeEngine hands out sequential call ids.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []engine.CreateCallRequest
	nextID  int
	failErr error
}

func (f *fakeEngine) CreateCall(_ context.Context, req engine.CreateCallRequest) (*engine.CreateCallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.nextID++
	f.calls = append(f.calls, req)
	id := fmt.Sprintf("EC%d", f.nextID)
	return &engine.CreateCallResponse{CallID: id, JoinURL: "wss://engine.test/join/" + id}, nil
}

func (f *fakeEngine) GetCallDetails(_ context.Context, callID string) (*engine.CallDetails, error) {
	return &engine.CallDetails{CallID: callID}, nil
}

func (f *fakeEngine) CreateWebhook(_ context.Context, _ string, _ []string, _ string) (string, error) {
	return "wh_test", nil
}

func (f *fakeEngine) DeleteWebhook(_ context.Context, _ string) error { return nil }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeBridge accepts every provider named in providers.
type fakeBridge struct {
	mu        sync.Mutex
	providers map[string]bool
	requests  []telephony.BridgeRequest
	failErr   error
}

func newFakeBridge(providers ...string) *fakeBridge {
	m := make(map[string]bool)
	for _, p := range providers {
		m[p] = true
	}
	return &fakeBridge{providers: m}
}

func (f *fakeBridge) Has(provider string) bool { return f.providers[provider] }

func (f *fakeBridge) Bridge(_ context.Context, provider string, _ domain.TelephonyCredentials, req telephony.BridgeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if !f.providers[provider] {
		return fmt.Errorf("unknown provider %q", provider)
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeBridge) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// capturePublisher records published call events.
type capturePublisher struct {
	mu     sync.Mutex
	events []queue.CallEvent
}

func (p *capturePublisher) PublishCallEvent(_ context.Context, ev queue.CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
