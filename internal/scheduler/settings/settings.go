package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UnlimitedRate is the sentinel meaning no hourly publish cap.
const UnlimitedRate = 0

// Settings is the per-workspace configuration consumed by the scheduler.
// Values are immutable for the duration of one run once cached.
type Settings struct {
	WorkspaceID     string
	RateLimit       int // successful publishes per rolling hour, UnlimitedRate for none
	Timezone        string
	GoldenHours     []string
	NotifyOnSuccess bool
	NotifyOnFailure bool
}

// Defaults returns the hardcoded baseline a fetched row is merged over,
// so partial or missing rows never break downstream logic.
func Defaults(workspaceID string) Settings {
	return Settings{
		WorkspaceID:     workspaceID,
		RateLimit:       UnlimitedRate,
		Timezone:        "UTC",
		NotifyOnSuccess: true,
		NotifyOnFailure: true,
	}
}

// Provider fetches workspace settings from the backing store.
type Provider interface {
	GetSettings(ctx context.Context, workspaceID string) (Settings, error)
}

// Store reads workspace_settings rows from PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a settings store over the given database.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

type settingsRow struct {
	RateLimit       sql.NullInt64  `db:"rate_limit"`
	Timezone        sql.NullString `db:"timezone"`
	GoldenHours     pq.StringArray `db:"golden_hours"`
	NotifyOnSuccess sql.NullBool   `db:"notify_on_success"`
	NotifyOnFailure sql.NullBool   `db:"notify_on_failure"`
}

// GetSettings loads one workspace's settings, merging the stored row over
// Defaults field-by-field. A missing row yields plain defaults.
func (s *Store) GetSettings(ctx context.Context, workspaceID string) (Settings, error) {
	query := `
		SELECT rate_limit, timezone, golden_hours, notify_on_success, notify_on_failure
		FROM workspace_settings
		WHERE workspace_id = $1
	`

	merged := Defaults(workspaceID)

	var row settingsRow
	err := s.db.GetContext(ctx, &row, query, workspaceID)
	if err == sql.ErrNoRows {
		s.logger.Debug("No settings row, using defaults",
			slog.String("workspace_id", workspaceID),
		)
		return merged, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to fetch workspace settings: %w", err)
	}

	if row.RateLimit.Valid {
		merged.RateLimit = int(row.RateLimit.Int64)
	}
	if row.Timezone.Valid && row.Timezone.String != "" {
		merged.Timezone = row.Timezone.String
	}
	if len(row.GoldenHours) > 0 {
		merged.GoldenHours = []string(row.GoldenHours)
	}
	if row.NotifyOnSuccess.Valid {
		merged.NotifyOnSuccess = row.NotifyOnSuccess.Bool
	}
	if row.NotifyOnFailure.Valid {
		merged.NotifyOnFailure = row.NotifyOnFailure.Bool
	}

	return merged, nil
}
