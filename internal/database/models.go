package database

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MatchStatus is the lifecycle state of a directional match.
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusLiked    MatchStatus = "liked"
	MatchStatusDeclined MatchStatus = "declined"
	MatchStatusMutual   MatchStatus = "mutual"
	MatchStatusChatting MatchStatus = "chatting"
)

// IsTerminal reports whether no lifecycle operation may change the status any more.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusDeclined || s == MatchStatusChatting
}

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusPending, MatchStatusLiked, MatchStatusDeclined, MatchStatusMutual, MatchStatusChatting:
		return true
	}
	return false
}

// Stance is the normalized answer to a yes/no lifestyle question (pets, smoking).
type Stance string

const (
	StanceYes        Stance = "yes"
	StanceNo         Stance = "no"
	StanceNegotiable Stance = "negotiable"
)

// ParseStance maps the free-form labels found in onboarding data to a Stance.
// Unknown and empty labels are negotiable.
func ParseStance(label string) Stance {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "yes", "true", "y", "allowed", "ok":
		return StanceYes
	case "no", "false", "n", "not_allowed", "none":
		return StanceNo
	default:
		return StanceNegotiable
	}
}

// UnmarshalJSON accepts either a boolean flag or a label.
func (s *Stance) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StanceNegotiable
		return nil
	}

	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		if flag {
			*s = StanceYes
		} else {
			*s = StanceNo
		}
		return nil
	}

	var label *string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("cannot decode %s into Stance", string(data))
	}
	if label == nil {
		*s = StanceNegotiable
		return nil
	}
	*s = ParseStance(*label)
	return nil
}

const (
	SleepScheduleEarlyBird = "early_bird"
	SleepScheduleNightOwl  = "night_owl"
	SleepScheduleFlexible  = "flexible"

	GenderAny = "any"

	DefaultMinAge = 18
	DefaultMaxAge = 100

	neutralLevel = 3
)

// Profile is a housing seeker's matching record
type Profile struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	Bio            string      `json:"bio" db:"bio"`
	Age            *int        `json:"age,omitempty" db:"age"`
	Gender         *string     `json:"gender,omitempty" db:"gender"`
	Occupation     *string     `json:"occupation,omitempty" db:"occupation"`
	BudgetMin      float64     `json:"budget_min" db:"budget_min"`
	BudgetMax      float64     `json:"budget_max" db:"budget_max"`
	Location       string      `json:"location" db:"location"`
	LookingFor     LookingFor  `json:"looking_for" db:"looking_for"`
	Lifestyle      Lifestyle   `json:"lifestyle" db:"lifestyle"`
	Preferences    Preferences `json:"preferences" db:"preferences"`
	TelegramChatID *int64      `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
	IsActive       bool        `json:"is_active" db:"is_active"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// LookingFor holds what a seeker wants in a roommate
type LookingFor struct {
	Gender        *string `json:"gender,omitempty"`
	AgeMin        *int    `json:"age_min,omitempty"`
	AgeMax        *int    `json:"age_max,omitempty"`
	RoommateCount *int    `json:"roommate_count,omitempty"`
}

// AgeRange returns the accepted age bounds with defaults for missing ones.
func (l LookingFor) AgeRange() (int, int) {
	lo, hi := DefaultMinAge, DefaultMaxAge
	if l.AgeMin != nil {
		lo = *l.AgeMin
	}
	if l.AgeMax != nil {
		hi = *l.AgeMax
	}
	return lo, hi
}

// Lifestyle holds interest and language tags
type Lifestyle struct {
	Interests []string `json:"interests"`
	Languages []string `json:"languages"`
}

// Preferences holds household preferences
type Preferences struct {
	PropertyTypes []string `json:"property_types"`
	Bedrooms      []int    `json:"bedrooms"`
	Cleanliness   int      `json:"cleanliness"`
	SocialLevel   int      `json:"social_level"`
	Pets          Stance   `json:"pets"`
	Smoking       Stance   `json:"smoking"`
	WorkFromHome  bool     `json:"work_from_home"`
	Guests        string   `json:"guests"`
	SleepSchedule string   `json:"sleep_schedule"`
}

// Validate checks the profile invariants.
func (p *Profile) Validate() error {
	if p.BudgetMin < 0 || p.BudgetMax < 0 {
		return fmt.Errorf("budget must not be negative")
	}
	if p.BudgetMin > p.BudgetMax {
		return fmt.Errorf("budget min %.2f exceeds max %.2f", p.BudgetMin, p.BudgetMax)
	}
	if err := validateLevel("cleanliness", p.Preferences.Cleanliness); err != nil {
		return err
	}
	if err := validateLevel("social_level", p.Preferences.SocialLevel); err != nil {
		return err
	}
	lo, hi := p.LookingFor.AgeRange()
	if lo > hi {
		return fmt.Errorf("looking_for age range [%d,%d] is empty", lo, hi)
	}
	return nil
}

func validateLevel(name string, level int) error {
	if level == 0 {
		return nil
	}
	if level < 1 || level > 5 {
		return fmt.Errorf("%s must be between 1 and 5, got %d", name, level)
	}
	return nil
}

// Normalized returns a copy with neutral values substituted for missing optional fields.
func (p Profile) Normalized() Profile {
	p.Location = strings.ToLower(strings.TrimSpace(p.Location))
	p.Lifestyle.Interests = normalizeTags(p.Lifestyle.Interests)
	p.Lifestyle.Languages = normalizeTags(p.Lifestyle.Languages)
	p.Preferences.PropertyTypes = normalizeTags(p.Preferences.PropertyTypes)

	if p.Preferences.Cleanliness == 0 {
		p.Preferences.Cleanliness = neutralLevel
	}
	if p.Preferences.SocialLevel == 0 {
		p.Preferences.SocialLevel = neutralLevel
	}
	if p.Preferences.Pets == "" {
		p.Preferences.Pets = StanceNegotiable
	}
	if p.Preferences.Smoking == "" {
		p.Preferences.Smoking = StanceNegotiable
	}
	p.Preferences.Guests = strings.ToLower(strings.TrimSpace(p.Preferences.Guests))
	p.Preferences.SleepSchedule = strings.ToLower(strings.TrimSpace(p.Preferences.SleepSchedule))
	if p.Preferences.SleepSchedule == "" {
		p.Preferences.SleepSchedule = SleepScheduleFlexible
	}
	return p
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Implement driver.Valuer and sql.Scanner for the JSONB profile blocks

func (l LookingFor) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *LookingFor) Scan(value interface{}) error {
	return scanJSON(value, l, "LookingFor")
}

func (l Lifestyle) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *Lifestyle) Scan(value interface{}) error {
	return scanJSON(value, l, "Lifestyle")
}

func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Preferences) Scan(value interface{}) error {
	return scanJSON(value, p, "Preferences")
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %s", value, name)
	}
}

// Breakdown holds the per-factor compatibility sub-scores, each in [0,100].
type Breakdown struct {
	Budget      float64 `json:"budget"`
	Location    float64 `json:"location"`
	Lifestyle   float64 `json:"lifestyle"`
	Preferences float64 `json:"preferences"`
	Schedule    float64 `json:"schedule"`
}

func (b Breakdown) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *Breakdown) Scan(value interface{}) error {
	return scanJSON(value, b, "Breakdown")
}

// Match is a directed, scored proposal from a seeker profile to a candidate profile
type Match struct {
	ID                 string      `json:"id" db:"id" dynamodbav:"id"`
	SeekerProfileID    string      `json:"seeker_profile_id" db:"seeker_profile_id" dynamodbav:"seeker_profile_id"`
	CandidateProfileID string      `json:"matched_profile_id" db:"candidate_profile_id" dynamodbav:"candidate_profile_id"`
	Score              int         `json:"score" db:"score" dynamodbav:"score"`
	Breakdown          Breakdown   `json:"breakdown" db:"breakdown" dynamodbav:"breakdown"`
	Status             MatchStatus `json:"status" db:"status" dynamodbav:"status"`
	ConversationID     *string     `json:"conversation_id,omitempty" db:"conversation_id" dynamodbav:"conversation_id,omitempty"`
	LikedBySeeker      bool        `json:"liked_by_seeker" db:"liked_by_seeker" dynamodbav:"liked_by_seeker"`
	Version            int64       `json:"-" db:"version" dynamodbav:"version"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at" dynamodbav:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at" dynamodbav:"updated_at"`
}

// PairKey returns the direction-independent key of the match's profile pair.
func (m *Match) PairKey() string {
	return PairKey(m.SeekerProfileID, m.CandidateProfileID)
}

// Counterpart returns the profile on the other side of the match from profileID.
func (m *Match) Counterpart(profileID string) (string, bool) {
	switch profileID {
	case m.SeekerProfileID:
		return m.CandidateProfileID, true
	case m.CandidateProfileID:
		return m.SeekerProfileID, true
	}
	return "", false
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Conversation is the messaging thread opened for a mutual pair
type Conversation struct {
	ID        string    `json:"id" db:"id"`
	PairKey   string    `json:"pair_key" db:"pair_key"`
	Profile1  string    `json:"profile1_id" db:"profile1_id"`
	Profile2  string    `json:"profile2_id" db:"profile2_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MatchStats summarizes a profile's outgoing matches by status
type MatchStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Liked    int `json:"liked"`
	Declined int `json:"declined"`
	Mutual   int `json:"mutual"`
	Chatting int `json:"chatting"`
}

// Add counts one match in the given status.
func (s *MatchStats) Add(status MatchStatus) {
	s.Total++
	switch status {
	case MatchStatusPending:
		s.Pending++
	case MatchStatusLiked:
		s.Liked++
	case MatchStatusDeclined:
		s.Declined++
	case MatchStatusMutual:
		s.Mutual++
	case MatchStatusChatting:
		s.Chatting++
	}
}

// PairTx reads and writes both directional records of one unordered pair
// inside an atomic section. Get returns nil, nil when the direction has no record.
type PairTx interface {
	Get(ctx context.Context, seekerID, candidateID string) (*Match, error)
	Save(ctx context.Context, match *Match) error
}
