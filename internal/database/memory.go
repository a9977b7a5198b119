package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
)

// MemoryStore keeps profiles, matches and conversations in process memory.
// It backs the CLI, local development and tests. Pair sections are serialized
// with one mutex per pair key, records themselves with a store-wide RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]Profile
	profileOrder  []string
	matches       map[string]Match
	byDirection   map[string]string
	conversations map[string]Conversation

	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]Profile),
		matches:       make(map[string]Match),
		byDirection:   make(map[string]string),
		conversations: make(map[string]Conversation),
		pairLocks:     make(map[string]*sync.Mutex),
	}
}

// ReadProfilesFile decodes a JSON array of profiles.
func ReadProfilesFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profiles file: %w", err)
	}
	return profiles, nil
}

// LoadProfilesFile reads a JSON array of profiles into the store.
func (s *MemoryStore) LoadProfilesFile(path string) error {
	profiles, err := ReadProfilesFile(path)
	if err != nil {
		return err
	}

	for i := range profiles {
		if err := s.PutProfile(profiles[i]); err != nil {
			return fmt.Errorf("profile %q: %w", profiles[i].ID, err)
		}
	}
	return nil
}

// PutProfile adds or replaces a profile. Insertion order is the pool order.
func (s *MemoryStore) PutProfile(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		s.profileOrder = append(s.profileOrder, p.ID)
	}
	s.profiles[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListActiveProfiles(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]Profile, 0, len(s.profileOrder))
	for _, id := range s.profileOrder {
		if p := s.profiles[id]; p.IsActive {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

func directionKey(seekerID, candidateID string) string {
	return seekerID + "->" + candidateID
}

func (s *MemoryStore) InsertMatches(_ context.Context, matches []Match) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]Match, 0, len(matches))
	for _, m := range matches {
		key := directionKey(m.SeekerProfileID, m.CandidateProfileID)
		if _, exists := s.byDirection[key]; exists {
			continue
		}
		if _, exists := s.matches[m.ID]; exists {
			return nil, fmt.Errorf("duplicate match id %s", m.ID)
		}
		s.matches[m.ID] = m
		s.byDirection[key] = m.ID
		stored = append(stored, m)
	}
	return stored, nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) ListMatchesBySeeker(_ context.Context, seekerID string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, m := range s.matches {
		if m.SeekerProfileID == seekerID {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

func (s *MemoryStore) pairLock(pairKey string) *sync.Mutex {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()

	l, ok := s.pairLocks[pairKey]
	if !ok {
		l = &sync.Mutex{}
		s.pairLocks[pairKey] = l
	}
	return l
}

// WithPair holds the pair's lock for the duration of fn. Saves are staged and
// applied only when fn succeeds, each one checked against the stored version.
func (s *MemoryStore) WithPair(ctx context.Context, a, b string, fn func(tx PairTx) error) error {
	pairKey := PairKey(a, b)
	l := s.pairLock(pairKey)
	l.Lock()
	defer l.Unlock()

	tx := &memoryPairTx{store: s, pairKey: pairKey, staged: make(map[string]Match), base: make(map[string]int64)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range tx.staged {
		if current, ok := s.matches[id]; !ok || current.Version != tx.base[id] {
			return apperrors.NewPromotionConflictError(pairKey, fmt.Errorf("match %s changed concurrently", id))
		}
	}
	for id, m := range tx.staged {
		s.matches[id] = m
	}
	return nil
}

type memoryPairTx struct {
	store   *MemoryStore
	pairKey string
	staged  map[string]Match
	base    map[string]int64
}

func (t *memoryPairTx) Get(_ context.Context, seekerID, candidateID string) (*Match, error) {
	if PairKey(seekerID, candidateID) != t.pairKey {
		return nil, fmt.Errorf("direction %s->%s is outside pair %s", seekerID, candidateID, t.pairKey)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	id, ok := t.store.byDirection[directionKey(seekerID, candidateID)]
	if !ok {
		return nil, nil
	}
	if m, ok := t.staged[id]; ok {
		return &m, nil
	}
	m := t.store.matches[id]
	return &m, nil
}

func (t *memoryPairTx) Save(_ context.Context, m *Match) error {
	if m.PairKey() != t.pairKey {
		return fmt.Errorf("match %s does not belong to pair %s", m.ID, t.pairKey)
	}
	if staged, ok := t.staged[m.ID]; ok && staged.Version != m.Version {
		return apperrors.NewPromotionConflictError(t.pairKey, fmt.Errorf("match %s saved from a stale copy", m.ID))
	}
	if _, ok := t.base[m.ID]; !ok {
		t.base[m.ID] = m.Version
	}

	m.Version++
	t.staged[m.ID] = *m
	return nil
}

// IssueConversation returns the pair's conversation id, creating one on first use.
func (s *MemoryStore) IssueConversation(_ context.Context, pairKey, profileA, profileB string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[pairKey]; ok {
		return c.ID, nil
	}
	c := Conversation{
		ID:       uuid.New().String(),
		PairKey:  pairKey,
		Profile1: profileA,
		Profile2: profileB,
	}
	s.conversations[pairKey] = c
	return c.ID, nil
}

// ConversationCount returns how many conversations have been issued.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
