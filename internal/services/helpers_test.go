package services

import (
	"github.com/meetsmatch/roommates/internal/database"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// newProfile returns an active profile that scores well against another
// newProfile with the same budget.
func newProfile(id string) database.Profile {
	return database.Profile{
		ID:        id,
		UserID:    "user-" + id,
		BudgetMin: 800,
		BudgetMax: 1200,
		Location:  "Berlin, Mitte",
		Lifestyle: database.Lifestyle{
			Interests: []string{"cooking", "gaming"},
			Languages: []string{"english"},
		},
		Preferences: database.Preferences{
			PropertyTypes: []string{"apartment"},
			Bedrooms:      []int{2},
			Cleanliness:   4,
			SocialLevel:   3,
			Pets:          database.StanceNo,
			Smoking:       database.StanceNo,
			WorkFromHome:  true,
			Guests:        "sometimes",
			SleepSchedule: database.SleepScheduleEarlyBird,
		},
		IsActive: true,
	}
}

func withGender(p database.Profile, gender string) database.Profile {
	p.Gender = strPtr(gender)
	return p
}

func seekingGender(p database.Profile, gender string) database.Profile {
	p.LookingFor.Gender = strPtr(gender)
	return p
}
