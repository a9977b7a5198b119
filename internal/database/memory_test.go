package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/meetsmatch/roommates/internal/errors"
)

func TestMemoryStore_Profiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.PutProfile(Profile{ID: "b", IsActive: true}))
	require.NoError(t, store.PutProfile(Profile{ID: "a", IsActive: true}))
	require.NoError(t, store.PutProfile(Profile{ID: "off"}))
	require.NoError(t, store.PutProfile(Profile{ID: "b", IsActive: true, Bio: "updated"}))

	assert.Error(t, store.PutProfile(Profile{}))
	assert.Error(t, store.PutProfile(Profile{ID: "bad", BudgetMin: 10, BudgetMax: 5}))

	active, err := store.ListActiveProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b", active[0].ID)
	assert.Equal(t, "updated", active[0].Bio)
	assert.Equal(t, "a", active[1].ID)

	_, err = store.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_LoadProfilesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "p1", "budget_min": 500, "budget_max": 800, "is_active": true, "preferences": {"pets": "yes"}},
		{"id": "p2", "budget_min": 600, "budget_max": 900, "is_active": true}
	]`), 0o600))

	store := NewMemoryStore()
	require.NoError(t, store.LoadProfilesFile(path))

	p, err := store.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StanceYes, p.Preferences.Pets)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "x", "budget_min": 9, "budget_max": 1}]`), 0o600))
	err = NewMemoryStore().LoadProfilesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "x"`)

	assert.Error(t, NewMemoryStore().LoadProfilesFile(filepath.Join(dir, "missing.json")))
}

func TestMemoryStore_InsertAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	stored, err := store.InsertMatches(ctx, []Match{
		{ID: "1", SeekerProfileID: "a", CandidateProfileID: "b", Score: 60, CreatedAt: now},
		{ID: "2", SeekerProfileID: "a", CandidateProfileID: "c", Score: 90, CreatedAt: now},
		{ID: "3", SeekerProfileID: "a", CandidateProfileID: "b", Score: 99, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	list, err := store.ListMatchesBySeeker(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID)
	assert.Equal(t, "1", list[1].ID)

	_, err = store.GetMatch(ctx, "3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_WithPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.InsertMatches(ctx, []Match{
		{ID: "ab", SeekerProfileID: "a", CandidateProfileID: "b", Status: MatchStatusPending},
		{ID: "ac", SeekerProfileID: "a", CandidateProfileID: "c", Status: MatchStatusPending},
	})
	require.NoError(t, err)

	t.Run("Commits staged saves", func(t *testing.T) {
		err := store.WithPair(ctx, "b", "a", func(tx PairTx) error {
			m, err := tx.Get(ctx, "a", "b")
			require.NoError(t, err)
			m.Status = MatchStatusLiked
			if err := tx.Save(ctx, m); err != nil {
				return err
			}

			again, err := tx.Get(ctx, "a", "b")
			require.NoError(t, err)
			assert.Equal(t, MatchStatusLiked, again.Status)

			missing, err := tx.Get(ctx, "b", "a")
			assert.NoError(t, err)
			assert.Nil(t, missing)
			return nil
		})
		require.NoError(t, err)

		m, _ := store.GetMatch(ctx, "ab")
		assert.Equal(t, MatchStatusLiked, m.Status)
		assert.Equal(t, int64(1), m.Version)
	})

	t.Run("Discards saves when fn fails", func(t *testing.T) {
		err := store.WithPair(ctx, "a", "b", func(tx PairTx) error {
			m, _ := tx.Get(ctx, "a", "b")
			m.Status = MatchStatusDeclined
			_ = tx.Save(ctx, m)
			return apperrors.NewNotTransitionableError("ab", "liked", "test")
		})
		assert.ErrorIs(t, err, apperrors.ErrNotTransitionable)

		m, _ := store.GetMatch(ctx, "ab")
		assert.Equal(t, MatchStatusLiked, m.Status)
	})

	t.Run("Saving the same record twice commits once", func(t *testing.T) {
		err := store.WithPair(ctx, "a", "b", func(tx PairTx) error {
			m, _ := tx.Get(ctx, "a", "b")
			if err := tx.Save(ctx, m); err != nil {
				return err
			}
			return tx.Save(ctx, m)
		})
		require.NoError(t, err)

		m, _ := store.GetMatch(ctx, "ab")
		assert.Equal(t, int64(3), m.Version)
	})

	t.Run("Stale copy is a conflict", func(t *testing.T) {
		err := store.WithPair(ctx, "a", "b", func(tx PairTx) error {
			m, _ := tx.Get(ctx, "a", "b")
			stale := *m
			if err := tx.Save(ctx, m); err != nil {
				return err
			}
			return tx.Save(ctx, &stale)
		})
		assert.ErrorIs(t, err, apperrors.ErrPromotionConflict)
	})

	t.Run("Rejects records outside the pair", func(t *testing.T) {
		err := store.WithPair(ctx, "a", "b", func(tx PairTx) error {
			_, err := tx.Get(ctx, "a", "c")
			return err
		})
		assert.Error(t, err)

		err = store.WithPair(ctx, "a", "b", func(tx PairTx) error {
			m, _ := store.GetMatch(ctx, "ac")
			return tx.Save(ctx, m)
		})
		assert.Error(t, err)
	})
}

func TestMemoryStore_IssueConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.IssueConversation(ctx, "a:b", "a", "b")
	require.NoError(t, err)
	second, err := store.IssueConversation(ctx, "a:b", "b", "a")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = store.IssueConversation(ctx, "a:c", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, 2, store.ConversationCount())
}
