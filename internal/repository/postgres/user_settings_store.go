package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-control/internal/domain"
	"github.com/acme/voice-campaign-control/internal/repository"
)

// UserSettingsStore reads per-user budget caps and telephony credentials.
type UserSettingsStore struct {
	db *sqlx.DB
}

// NewUserSettingsStore constructs the store.
func NewUserSettingsStore(db *sqlx.DB) *UserSettingsStore {
	return &UserSettingsStore{db: db}
}

// Get loads the user's settings. A missing row yields the default budget of
// one concurrent call and no credentials.
func (r *UserSettingsStore) Get(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	settings := &domain.UserSettings{
		UserID:             userID,
		MaxConcurrentCalls: 1,
		Telephony:          make(map[string]domain.TelephonyCredentials),
	}

	var maxCalls int
	err := r.db.QueryRowxContext(ctx,
		`SELECT max_concurrent_calls FROM user_settings WHERE user_id = $1`, userID).Scan(&maxCalls)
	switch {
	case err == sql.ErrNoRows:
		// defaults apply
	case err != nil:
		return nil, fmt.Errorf("user settings: get: %w", err)
	default:
		if maxCalls > 0 {
			settings.MaxConcurrentCalls = maxCalls
		}
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT provider, account_id, auth_token FROM user_telephony_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("user settings: credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider, accountID, authToken string
		if err := rows.Scan(&provider, &accountID, &authToken); err != nil {
			return nil, fmt.Errorf("user settings: scan credentials: %w", err)
		}
		settings.Telephony[provider] = domain.TelephonyCredentials{
			AccountID: accountID,
			AuthToken: authToken,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user settings: rows err: %w", err)
	}

	return settings, nil
}

var _ repository.UserSettingsStore = (*UserSettingsStore)(nil)
