package services

import (
	"strings"

	"github.com/meetsmatch/roommates/internal/database"
)

// Accepts reports whether seeker's looking-for block admits candidate.
// The check is directional; use MutuallyEligible to gate a pair.
func Accepts(seeker, candidate database.Profile) bool {
	if want := seeker.LookingFor.Gender; want != nil {
		pref := strings.ToLower(strings.TrimSpace(*want))
		if pref != "" && pref != database.GenderAny {
			if candidate.Gender == nil || strings.ToLower(strings.TrimSpace(*candidate.Gender)) != pref {
				return false
			}
		}
	}

	if candidate.Age != nil {
		lo, hi := seeker.LookingFor.AgeRange()
		if *candidate.Age < lo || *candidate.Age > hi {
			return false
		}
	}
	return true
}

// MutuallyEligible reports whether a and b accept each other.
func MutuallyEligible(a, b database.Profile) bool {
	return Accepts(a, b) && Accepts(b, a)
}
