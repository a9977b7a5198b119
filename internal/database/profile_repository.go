package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/meetsmatch/roommates/internal/telemetry"
)

const profileColumns = `id, user_id, bio, age, gender, occupation, budget_min, budget_max, location,
	looking_for, lifestyle, preferences, telegram_chat_id, is_active, created_at, updated_at`

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Bio, &p.Age, &p.Gender, &p.Occupation, &p.BudgetMin, &p.BudgetMax,
		&p.Location, &p.LookingFor, &p.Lifestyle, &p.Preferences, &p.TelegramChatID,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProfileRepository reads profiles written by the onboarding flow.
type ProfileRepository struct {
	db *DB
}

func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) ListActiveProfiles(ctx context.Context) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE is_active = TRUE ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// UpsertProfile writes a profile snapshot. The seed command loads fixtures
// with it; the onboarding flow owns profiles in production.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, bio = EXCLUDED.bio, age = EXCLUDED.age,
			gender = EXCLUDED.gender, occupation = EXCLUDED.occupation,
			budget_min = EXCLUDED.budget_min, budget_max = EXCLUDED.budget_max,
			location = EXCLUDED.location, looking_for = EXCLUDED.looking_for,
			lifestyle = EXCLUDED.lifestyle, preferences = EXCLUDED.preferences,
			telegram_chat_id = EXCLUDED.telegram_chat_id, is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.UserID, p.Bio, p.Age, p.Gender, p.Occupation, p.BudgetMin, p.BudgetMax,
		p.Location, p.LookingFor, p.Lifestyle, p.Preferences, p.TelegramChatID,
		p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("profile_id", p.ID).WithError(err).Error("Failed to upsert profile")
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
