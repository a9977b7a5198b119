package database

import (
	"context"
	"fmt"

	"github.com/meetsmatch/roommates/internal/telemetry"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		bio              TEXT NOT NULL DEFAULT '',
		age              INTEGER,
		gender           TEXT,
		occupation       TEXT,
		budget_min       NUMERIC(12,2) NOT NULL DEFAULT 0,
		budget_max       NUMERIC(12,2) NOT NULL DEFAULT 0,
		location         TEXT NOT NULL DEFAULT '',
		looking_for      JSONB NOT NULL DEFAULT '{}',
		lifestyle        JSONB NOT NULL DEFAULT '{}',
		preferences      JSONB NOT NULL DEFAULT '{}',
		telegram_chat_id BIGINT,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT profiles_budget_range CHECK (budget_min <= budget_max)
	)`,
	`CREATE INDEX IF NOT EXISTS profiles_active_idx ON profiles (is_active)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id                   TEXT PRIMARY KEY,
		seeker_profile_id    TEXT NOT NULL REFERENCES profiles(id),
		candidate_profile_id TEXT NOT NULL REFERENCES profiles(id),
		pair_key             TEXT NOT NULL,
		score                INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
		breakdown            JSONB NOT NULL,
		status               TEXT NOT NULL,
		conversation_id      TEXT,
		liked_by_seeker      BOOLEAN NOT NULL DEFAULT FALSE,
		version              BIGINT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		CONSTRAINT matches_direction_unique UNIQUE (seeker_profile_id, candidate_profile_id)
	)`,
	`CREATE INDEX IF NOT EXISTS matches_pair_key_idx ON matches (pair_key)`,
	`CREATE INDEX IF NOT EXISTS matches_seeker_status_idx ON matches (seeker_profile_id, status)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		pair_key    TEXT NOT NULL UNIQUE,
		profile1_id TEXT NOT NULL,
		profile2_id TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the matching tables when they do not exist yet.
func Migrate(ctx context.Context, db *DB) error {
	logger := telemetry.GetContextualLogger(ctx).WithField("operation", "database_migrate")

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.WithError(err).WithField("statement", i).Error("Migration statement failed")
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}

	logger.WithField("statements", len(schema)).Info("Database schema is up to date")
	return nil
}
