package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetsmatch/roommates/internal/database"
)

func TestAccepts(t *testing.T) {
	tests := []struct {
		name      string
		seeker    database.Profile
		candidate database.Profile
		expected  bool
	}{
		{
			name:      "No preferences",
			seeker:    newProfile("s"),
			candidate: newProfile("c"),
			expected:  true,
		},
		{
			name:      "Female preference excludes male",
			seeker:    seekingGender(newProfile("s"), "female"),
			candidate: withGender(newProfile("c"), "male"),
			expected:  false,
		},
		{
			name:      "Female preference accepts female",
			seeker:    seekingGender(newProfile("s"), "female"),
			candidate: withGender(newProfile("c"), "Female"),
			expected:  true,
		},
		{
			name:      "Any gender",
			seeker:    seekingGender(newProfile("s"), "any"),
			candidate: withGender(newProfile("c"), "male"),
			expected:  true,
		},
		{
			name:      "Preference set, candidate gender unknown",
			seeker:    seekingGender(newProfile("s"), "female"),
			candidate: newProfile("c"),
			expected:  false,
		},
		{
			name: "Age inside range",
			seeker: func() database.Profile {
				p := newProfile("s")
				p.LookingFor.AgeMin, p.LookingFor.AgeMax = intPtr(20), intPtr(30)
				return p
			}(),
			candidate: func() database.Profile { p := newProfile("c"); p.Age = intPtr(30); return p }(),
			expected:  true,
		},
		{
			name: "Age above range",
			seeker: func() database.Profile {
				p := newProfile("s")
				p.LookingFor.AgeMax = intPtr(30)
				return p
			}(),
			candidate: func() database.Profile { p := newProfile("c"); p.Age = intPtr(31); return p }(),
			expected:  false,
		},
		{
			name:      "Default minimum age applies",
			seeker:    newProfile("s"),
			candidate: func() database.Profile { p := newProfile("c"); p.Age = intPtr(17); return p }(),
			expected:  false,
		},
		{
			name: "Candidate without age passes",
			seeker: func() database.Profile {
				p := newProfile("s")
				p.LookingFor.AgeMin = intPtr(40)
				return p
			}(),
			candidate: newProfile("c"),
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Accepts(tt.seeker, tt.candidate))
		})
	}
}

func TestMutuallyEligible(t *testing.T) {
	seeker := withGender(newProfile("s"), "female")
	candidate := seekingGender(withGender(newProfile("c"), "female"), "male")

	assert.True(t, Accepts(seeker, candidate))
	assert.False(t, Accepts(candidate, seeker))
	assert.False(t, MutuallyEligible(seeker, candidate))
	assert.False(t, MutuallyEligible(candidate, seeker))

	candidate = seekingGender(candidate, "female")
	assert.True(t, MutuallyEligible(seeker, candidate))
}
