package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

const matchColumns = `id, seeker_profile_id, candidate_profile_id, score, breakdown, status,
	conversation_id, liked_by_seeker, version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*Match, error) {
	m := &Match{}
	err := row.Scan(
		&m.ID, &m.SeekerProfileID, &m.CandidateProfileID, &m.Score, &m.Breakdown, &m.Status,
		&m.ConversationID, &m.LikedBySeeker, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MatchRepository stores matches in PostgreSQL.
type MatchRepository struct {
	db *DB
}

func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) InsertMatches(ctx context.Context, matches []Match) ([]Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "insert_matches",
		"count":     len(matches),
	})

	query := `
		INSERT INTO matches (` + matchColumns + `, pair_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (seeker_profile_id, candidate_profile_id) DO NOTHING
		RETURNING id
	`

	stored := make([]Match, 0, len(matches))
	err := r.db.WithTransaction(ctx, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare match insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range matches {
			var id string
			err := stmt.QueryRowContext(ctx,
				m.ID, m.SeekerProfileID, m.CandidateProfileID, m.Score, m.Breakdown, m.Status,
				m.ConversationID, m.LikedBySeeker, m.Version, m.CreatedAt, m.UpdatedAt, m.PairKey(),
			).Scan(&id)
			if stderrors.Is(err, sql.ErrNoRows) {
				logger.WithField("candidate_profile_id", m.CandidateProfileID).Debug("Match already exists, skipping")
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert match: %w", err)
			}
			stored = append(stored, m)
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("Failed to insert matches")
		return nil, err
	}

	logger.WithField("stored", len(stored)).Debug("Inserted matches")
	return stored, nil
}

func (r *MatchRepository) GetMatch(ctx context.Context, id string) (*Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

func (r *MatchRepository) ListMatchesBySeeker(ctx context.Context, seekerID string) ([]Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE seeker_profile_id = $1
		ORDER BY score DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, seekerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// WithPair runs fn in a serializable transaction holding an advisory lock on the
// pair key, so both directions of {a, b} are read and written as one unit.
func (r *MatchRepository) WithPair(ctx context.Context, a, b string, fn func(tx PairTx) error) error {
	pairKey := PairKey(a, b)
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	err := r.db.WithTransaction(ctx, opts, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey); err != nil {
			return fmt.Errorf("failed to lock pair: %w", err)
		}
		return fn(&pgPairTx{tx: tx, pairKey: pairKey})
	})
	if err != nil && IsSerializationFailure(err) {
		return apperrors.NewPromotionConflictError(pairKey, err)
	}
	return err
}

type pgPairTx struct {
	tx      *sql.Tx
	pairKey string
}

func (p *pgPairTx) Get(ctx context.Context, seekerID, candidateID string) (*Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE seeker_profile_id = $1 AND candidate_profile_id = $2
		FOR UPDATE
	`

	m, err := scanMatch(p.tx.QueryRowContext(ctx, query, seekerID, candidateID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair match: %w", err)
	}
	return m, nil
}

func (p *pgPairTx) Save(ctx context.Context, m *Match) error {
	if m.PairKey() != p.pairKey {
		return fmt.Errorf("match %s does not belong to pair %s", m.ID, p.pairKey)
	}

	m.UpdatedAt = time.Now().UTC()
	res, err := p.tx.ExecContext(ctx, `
		UPDATE matches
		SET status = $1, conversation_id = $2, liked_by_seeker = $3,
		    version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6
	`, m.Status, m.ConversationID, m.LikedBySeeker, m.UpdatedAt, m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return apperrors.NewPromotionConflictError(p.pairKey, fmt.Errorf("match %s changed concurrently", m.ID))
	}

	m.Version++
	return nil
}
