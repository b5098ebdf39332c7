package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/repository"
)

// CallHistoryStore persists call records in Scylla, keyed by the voice
// engine's call id. A secondary table indexes records per campaign.
type CallHistoryStore struct {
	session *gocql.Session
}

// NewCallHistoryStore creates a new store.
func NewCallHistoryStore(session *gocql.Session) *CallHistoryStore {
	return &CallHistoryStore{session: session}
}

// Create inserts a call record.
func (s *CallHistoryStore) Create(ctx context.Context, record *domain.CallHistory) error {
	if err := s.session.Query(`INSERT INTO call_history (
		engine_call_id, user_id, agent_id, campaign_id, contact_id,
		customer_name, customer_phone, status, started_at, joined_at, ended_at,
		duration_seconds, end_reason, billed_seconds, summary, short_summary, recording_url
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.EngineCallID, record.UserID.String(), record.AgentID,
		record.CampaignID.String(), record.ContactID.String(),
		record.CustomerName, record.CustomerPhone, string(record.Status),
		record.StartedAt, record.JoinedAt, record.EndedAt,
		record.Duration, record.EndReason, record.BilledSeconds,
		record.Summary, record.ShortSummary, record.RecordingURL,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: insert: %w", err)
	}

	if err := s.session.Query(`INSERT INTO call_history_by_campaign (campaign_id, started_at, engine_call_id, customer_phone, status)
		VALUES (?, ?, ?, ?, ?)`,
		record.CampaignID.String(), record.StartedAt, record.EngineCallID, record.CustomerPhone, string(record.Status),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: insert campaign index: %w", err)
	}

	return nil
}

// GetByEngineCallID fetches one record.
func (s *CallHistoryStore) GetByEngineCallID(ctx context.Context, engineCallID string) (*domain.CallHistory, error) {
	var (
		userIDStr, agentID, campaignIDStr, contactIDStr  string
		customerName, customerPhone, status              string
		startedAt                                        time.Time
		joinedAt, endedAt                                *time.Time
		duration, billedSeconds                          int
		endReason, summary, shortSummary, recordingURL   string
	)

	err := s.session.Query(`SELECT user_id, agent_id, campaign_id, contact_id,
		customer_name, customer_phone, status, started_at, joined_at, ended_at,
		duration_seconds, end_reason, billed_seconds, summary, short_summary, recording_url
		FROM call_history WHERE engine_call_id = ?`, engineCallID).
		WithContext(ctx).Scan(
		&userIDStr, &agentID, &campaignIDStr, &contactIDStr,
		&customerName, &customerPhone, &status, &startedAt, &joinedAt, &endedAt,
		&duration, &endReason, &billedSeconds, &summary, &shortSummary, &recordingURL,
	)
	if err == gocql.ErrNotFound {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("call history: get: %w", err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("call history: parse user_id: %w", err)
	}
	campaignID, err := uuid.Parse(campaignIDStr)
	if err != nil {
		return nil, fmt.Errorf("call history: parse campaign_id: %w", err)
	}
	contactID, err := uuid.Parse(contactIDStr)
	if err != nil {
		return nil, fmt.Errorf("call history: parse contact_id: %w", err)
	}

	return &domain.CallHistory{
		EngineCallID:  engineCallID,
		UserID:        userID,
		AgentID:       agentID,
		CampaignID:    campaignID,
		ContactID:     contactID,
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
		Status:        domain.CallHistoryStatus(status),
		StartedAt:     startedAt,
		JoinedAt:      joinedAt,
		EndedAt:       endedAt,
		Duration:      duration,
		EndReason:     endReason,
		BilledSeconds: billedSeconds,
		Summary:       summary,
		ShortSummary:  shortSummary,
		RecordingURL:  recordingURL,
	}, nil
}

// MarkJoined stamps the moment the customer audio joined the engine session.
func (s *CallHistoryStore) MarkJoined(ctx context.Context, engineCallID string, joinedAt time.Time) error {
	if err := s.session.Query(`UPDATE call_history SET joined_at = ? WHERE engine_call_id = ?`,
		joinedAt, engineCallID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: mark joined: %w", err)
	}
	return nil
}

// FinishCall writes the terminal fields for a call.
func (s *CallHistoryStore) FinishCall(ctx context.Context, engineCallID string, update repository.TerminalCallUpdate) error {
	record, err := s.GetByEngineCallID(ctx, engineCallID)
	if err != nil {
		return err
	}

	if err := s.session.Query(`UPDATE call_history SET
		status = ?, ended_at = ?, duration_seconds = ?, end_reason = ?, billed_seconds = ?,
		summary = ?, short_summary = ?, recording_url = ?
		WHERE engine_call_id = ?`,
		string(update.Status), update.EndedAt, update.Duration, update.EndReason, update.BilledSeconds,
		update.Summary, update.ShortSummary, update.RecordingURL, engineCallID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: finish: %w", err)
	}

	if err := s.session.Query(`UPDATE call_history_by_campaign SET status = ?
		WHERE campaign_id = ? AND started_at = ? AND engine_call_id = ?`,
		string(update.Status), record.CampaignID.String(), record.StartedAt, engineCallID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: update campaign index: %w", err)
	}

	return nil
}

// ListByCampaign returns the most recent call records for a campaign.
func (s *CallHistoryStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CallHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT engine_call_id FROM call_history_by_campaign
		WHERE campaign_id = ? LIMIT ?`, campaignID.String(), limit).
		WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call history: list by campaign: %w", err)
	}

	results := make([]domain.CallHistory, 0, len(ids))
	for _, engineCallID := range ids {
		record, err := s.GetByEngineCallID(ctx, engineCallID)
		if err != nil {
			if err == repository.ErrNotFound {
				continue
			}
			return nil, err
		}
		results = append(results, *record)
	}
	return results, nil
}

var _ repository.CallHistoryStore = (*CallHistoryStore)(nil)
