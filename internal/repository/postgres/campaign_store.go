package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/repository"
)

// CampaignStore implements repository.CampaignStore using PostgreSQL.
// Contacts live in their own table; the atomic pending -> in_progress claim
// is a single statement using FOR UPDATE SKIP LOCKED.
type CampaignStore struct {
	db *sqlx.DB
}

// NewCampaignStore constructs the store.
func NewCampaignStore(db *sqlx.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

// Create inserts a campaign and its contact list in one transaction.
func (r *CampaignStore) Create(ctx context.Context, campaign *domain.Campaign, contacts []domain.Contact) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("campaign store: begin: %w", err)
	}
	defer tx.Rollback()

	q := `INSERT INTO campaigns (
		id, user_id, name, type, agent_id, status,
		scheduled_date, start_time, end_time, timezone,
		medium_provider, medium_from_phone,
		completed_calls, successful_calls, failed_calls,
		paused_reason, started_at, completed_at, last_processed_at,
		created_at, updated_at
	) VALUES (
		:id, :user_id, :name, :type, :agent_id, :status,
		:scheduled_date, :start_time, :end_time, :timezone,
		:medium_provider, :medium_from_phone,
		0, 0, 0,
		:paused_reason, :started_at, :completed_at, :last_processed_at,
		:created_at, :updated_at
	)`

	if _, err := tx.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign store: insert campaign: %w", err)
	}

	if len(contacts) > 0 {
		rows := make([]map[string]any, 0, len(contacts))
		for _, c := range contacts {
			rows = append(rows, map[string]any{
				"id":           c.ID,
				"campaign_id":  campaign.ID,
				"name":         c.Name,
				"phone_number": c.PhoneNumber,
				"position":     c.Position,
				"call_status":  c.CallStatus,
				"created_at":   c.CreatedAt,
			})
		}
		cq := `INSERT INTO contacts (id, campaign_id, name, phone_number, position, call_status, created_at)
			VALUES (:id, :campaign_id, :name, :phone_number, :position, :call_status, :created_at)
			ON CONFLICT (id) DO NOTHING`
		if _, err := tx.NamedExecContext(ctx, cq, rows); err != nil {
			return fmt.Errorf("campaign store: insert contacts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("campaign store: commit: %w", err)
	}
	return nil
}

const campaignColumns = `id, user_id, name, type, agent_id, status,
	scheduled_date, start_time, end_time, timezone,
	medium_provider, medium_from_phone,
	completed_calls, successful_calls, failed_calls,
	paused_reason, started_at, completed_at, last_processed_at,
	created_at, updated_at`

// Get fetches a campaign by id.
func (r *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	var rec campaignRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign store: get: %w", err)
	}
	campaign := rec.toDomain()
	return &campaign, nil
}

// ListByStatus returns campaigns of the given type in the given status.
func (r *CampaignStore) ListByStatus(ctx context.Context, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE type = $1 AND status = $2 ORDER BY created_at ASC`, campaignType, status)
}

// ListByUserAndStatus returns one user's campaigns in the given status.
func (r *CampaignStore) ListByUserAndStatus(ctx context.Context, userID uuid.UUID, campaignType domain.CampaignType, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE user_id = $1 AND type = $2 AND status = $3 ORDER BY created_at ASC`, userID, campaignType, status)
}

// ListByUser returns all of a user's campaigns of the given type.
func (r *CampaignStore) ListByUser(ctx context.Context, userID uuid.UUID, campaignType domain.CampaignType) ([]*domain.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE user_id = $1 AND type = $2 ORDER BY created_at ASC`, userID, campaignType)
}

func (r *CampaignStore) list(ctx context.Context, query string, args ...any) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("campaign store: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var rec campaignRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign store: scan: %w", err)
		}
		campaign := rec.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign store: rows err: %w", err)
	}
	return results, nil
}

// SetStatus transitions a campaign and writes the accompanying fields.
func (r *CampaignStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, update repository.StatusUpdate) error {
	q := `UPDATE campaigns SET status = $2, updated_at = NOW()`
	args := []any{id, status}
	n := 3
	if update.PausedReason != nil {
		q += fmt.Sprintf(", paused_reason = $%d", n)
		args = append(args, *update.PausedReason)
		n++
	}
	if update.StartedAt != nil {
		q += fmt.Sprintf(", started_at = $%d", n)
		args = append(args, *update.StartedAt)
		n++
	}
	if update.CompletedAt != nil {
		q += fmt.Sprintf(", completed_at = $%d", n)
		args = append(args, *update.CompletedAt)
		n++
	}
	if update.LastProcessedAt != nil {
		q += fmt.Sprintf(", last_processed_at = $%d", n)
		args = append(args, *update.LastProcessedAt)
		n++
	}
	q += " WHERE id = $1"

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("campaign store: set status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign store: rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchProcessed stamps the last scheduler pass time without touching status.
func (r *CampaignStore) TouchProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET last_processed_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("campaign store: touch processed: %w", err)
	}
	return nil
}

// AddTotals increments the campaign call counters.
func (r *CampaignStore) AddTotals(ctx context.Context, id uuid.UUID, delta repository.TotalsDelta) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		completed_calls = completed_calls + $2,
		successful_calls = successful_calls + $3,
		failed_calls = failed_calls + $4,
		updated_at = NOW()
	WHERE id = $1`, id, delta.Completed, delta.Successful, delta.Failed)
	if err != nil {
		return fmt.Errorf("campaign store: add totals: %w", err)
	}
	return nil
}

// ClaimPendingContact claims the first pending contact of the campaign.
// The subselect with FOR UPDATE SKIP LOCKED serializes concurrent claims:
// two racing claimers can never both move the same contact out of pending.
func (r *CampaignStore) ClaimPendingContact(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE contacts SET call_status = $2, called_at = NOW()
		WHERE id = (
			SELECT id FROM contacts
			WHERE campaign_id = $1 AND call_status = $3
			ORDER BY position ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+contactColumns,
		campaignID, domain.ContactStatusInProgress, domain.ContactStatusPending)

	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("campaign store: claim contact: %w", err)
	}
	contact := rec.toDomain()
	return &contact, nil
}

const contactColumns = `id, campaign_id, name, phone_number, position, call_status,
	engine_call_id, call_history_id, called_at, call_duration, call_notes, created_at`

// GetContact fetches a contact by id.
func (r *CampaignStore) GetContact(ctx context.Context, contactID uuid.UUID) (*domain.Contact, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, contactID)
	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign store: get contact: %w", err)
	}
	contact := rec.toDomain()
	return &contact, nil
}

// ListContacts lists a campaign's contacts, optionally filtered by status.
func (r *CampaignStore) ListContacts(ctx context.Context, campaignID uuid.UUID, status domain.ContactStatus, limit int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE campaign_id = $1`
	args := []any{campaignID}
	if status != "" {
		query += ` AND call_status = $2 ORDER BY position ASC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY position ASC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("campaign store: list contacts: %w", err)
	}
	defer rows.Close()

	var results []domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign store: scan contact: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign store: rows err: %w", err)
	}
	return results, nil
}

// SetContactEngineRefs stamps the engine call id and history id after call creation.
func (r *CampaignStore) SetContactEngineRefs(ctx context.Context, contactID uuid.UUID, engineCallID, callHistoryID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contacts SET engine_call_id = $2, call_history_id = $3 WHERE id = $1`,
		contactID, engineCallID, callHistoryID)
	if err != nil {
		return fmt.Errorf("campaign store: set engine refs: %w", err)
	}
	return nil
}

// FinishContact moves an in_progress contact to a terminal status. The
// in_progress guard makes duplicate terminal webhooks no-ops.
func (r *CampaignStore) FinishContact(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus, durationSeconds int, notes string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts SET call_status = $2, call_duration = $3, call_notes = $4
		WHERE id = $1 AND call_status = $5`,
		contactID, status, durationSeconds, notes, domain.ContactStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("campaign store: finish contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("campaign store: rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReturnContactToPending requeues an in_progress contact.
func (r *CampaignStore) ReturnContactToPending(ctx context.Context, contactID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contacts SET call_status = $2, engine_call_id = '', call_history_id = ''
		WHERE id = $1 AND call_status = $3`,
		contactID, domain.ContactStatusPending, domain.ContactStatusInProgress)
	if err != nil {
		return fmt.Errorf("campaign store: return contact to pending: %w", err)
	}
	return nil
}

// ContactStatusCounts tallies a campaign's contacts by status.
func (r *CampaignStore) ContactStatusCounts(ctx context.Context, campaignID uuid.UUID) (map[domain.ContactStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT call_status, COUNT(*) AS n FROM contacts
		WHERE campaign_id = $1 GROUP BY call_status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign store: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ContactStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("campaign store: scan count: %w", err)
		}
		counts[domain.ContactStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign store: rows err: %w", err)
	}
	return counts, nil
}

// CountInProgressByUser counts in_progress contacts across the user's active
// outbound campaigns. Used to rebuild the in-memory budget after a restart.
func (r *CampaignStore) CountInProgressByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM contacts c
		JOIN campaigns ca ON ca.id = c.campaign_id
		WHERE ca.user_id = $1 AND ca.type = $2 AND ca.status = $3 AND c.call_status = $4`,
		userID, domain.CampaignTypeOutbound, domain.CampaignStatusActive, domain.ContactStatusInProgress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("campaign store: count in progress: %w", err)
	}
	return n, nil
}

// ResetInProgressContacts fails every in_progress contact across the user's
// outbound campaigns and returns the number reset.
func (r *CampaignStore) ResetInProgressContacts(ctx context.Context, userID uuid.UUID, notes string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts SET call_status = $2, call_notes = $3
		WHERE call_status = $4 AND campaign_id IN (
			SELECT id FROM campaigns WHERE user_id = $1 AND type = $5
		)`,
		userID, domain.ContactStatusFailed, notes, domain.ContactStatusInProgress, domain.CampaignTypeOutbound)
	if err != nil {
		return 0, fmt.Errorf("campaign store: reset in progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("campaign store: rows affected: %w", err)
	}
	return int(affected), nil
}

func campaignParams(c *domain.Campaign) map[string]any {
	params := map[string]any{
		"id":                c.ID,
		"user_id":           c.UserID,
		"name":              c.Name,
		"type":              c.Type,
		"agent_id":          c.AgentID,
		"status":            c.Status,
		"scheduled_date":    nil,
		"start_time":        nil,
		"end_time":          nil,
		"timezone":          nil,
		"medium_provider":   nil,
		"medium_from_phone": nil,
		"paused_reason":     c.PausedReason,
		"started_at":        c.StartedAt,
		"completed_at":      c.CompletedAt,
		"last_processed_at": c.LastProcessedAt,
		"created_at":        c.CreatedAt,
		"updated_at":        c.UpdatedAt,
	}
	if c.Schedule != nil {
		params["scheduled_date"] = c.Schedule.ScheduledDate
		params["start_time"] = c.Schedule.StartTime
		params["end_time"] = c.Schedule.EndTime
		params["timezone"] = c.Schedule.Timezone
	}
	if c.Medium != nil {
		params["medium_provider"] = c.Medium.Provider
		params["medium_from_phone"] = c.Medium.FromPhone
	}
	return params
}

type campaignRecord struct {
	ID              uuid.UUID      `db:"id"`
	UserID          uuid.UUID      `db:"user_id"`
	Name            string         `db:"name"`
	Type            string         `db:"type"`
	AgentID         string         `db:"agent_id"`
	Status          string         `db:"status"`
	ScheduledDate   sql.NullTime   `db:"scheduled_date"`
	StartTime       sql.NullString `db:"start_time"`
	EndTime         sql.NullString `db:"end_time"`
	Timezone        sql.NullString `db:"timezone"`
	MediumProvider  sql.NullString `db:"medium_provider"`
	MediumFromPhone sql.NullString `db:"medium_from_phone"`
	CompletedCalls  int            `db:"completed_calls"`
	SuccessfulCalls int            `db:"successful_calls"`
	FailedCalls     int            `db:"failed_calls"`
	PausedReason    sql.NullString `db:"paused_reason"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	LastProcessedAt sql.NullTime   `db:"last_processed_at"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		Type:            domain.CampaignType(r.Type),
		AgentID:         r.AgentID,
		Status:          domain.CampaignStatus(r.Status),
		CompletedCalls:  r.CompletedCalls,
		SuccessfulCalls: r.SuccessfulCalls,
		FailedCalls:     r.FailedCalls,
		PausedReason:    r.PausedReason.String,
		CreatedAt:       r.CreatedAt.Time,
		UpdatedAt:       r.UpdatedAt.Time,
	}
	if r.ScheduledDate.Valid {
		campaign.Schedule = &domain.Schedule{
			ScheduledDate: r.ScheduledDate.Time,
			StartTime:     r.StartTime.String,
			EndTime:       r.EndTime.String,
			Timezone:      r.Timezone.String,
		}
	}
	if r.MediumProvider.Valid || r.MediumFromPhone.Valid {
		campaign.Medium = &domain.OutboundMedium{
			Provider:  r.MediumProvider.String,
			FromPhone: r.MediumFromPhone.String,
		}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		campaign.CompletedAt = &t
	}
	if r.LastProcessedAt.Valid {
		t := r.LastProcessedAt.Time
		campaign.LastProcessedAt = &t
	}
	return campaign
}

type contactRecord struct {
	ID            uuid.UUID      `db:"id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	Name          string         `db:"name"`
	PhoneNumber   string         `db:"phone_number"`
	Position      int            `db:"position"`
	CallStatus    string         `db:"call_status"`
	EngineCallID  sql.NullString `db:"engine_call_id"`
	CallHistoryID sql.NullString `db:"call_history_id"`
	CalledAt      sql.NullTime   `db:"called_at"`
	CallDuration  sql.NullInt64  `db:"call_duration"`
	CallNotes     sql.NullString `db:"call_notes"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r contactRecord) toDomain() domain.Contact {
	contact := domain.Contact{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		Name:          r.Name,
		PhoneNumber:   r.PhoneNumber,
		Position:      r.Position,
		CallStatus:    domain.ContactStatus(r.CallStatus),
		EngineCallID:  r.EngineCallID.String,
		CallHistoryID: r.CallHistoryID.String,
		CallDuration:  int(r.CallDuration.Int64),
		CallNotes:     r.CallNotes.String,
		CreatedAt:     r.CreatedAt,
	}
	if r.CalledAt.Valid {
		t := r.CalledAt.Time
		contact.CalledAt = &t
	}
	return contact
}
