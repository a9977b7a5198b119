package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsmatch/roommates/internal/middleware"
)

const testProfiles = `[
  {"id": "p1", "bio": "quiet nurse", "budget_min": 600, "budget_max": 900, "location": "Berlin, Mitte",
   "lifestyle": {"interests": ["cooking", "hiking"], "languages": ["english"]},
   "preferences": {"cleanliness": 4, "social_level": 2, "pets": "no", "smoking": "no", "sleep_schedule": "early_bird"},
   "is_active": true},
  {"id": "p2", "bio": "designer", "budget_min": 700, "budget_max": 1000, "location": "Berlin, Mitte",
   "lifestyle": {"interests": ["cooking"], "languages": ["english", "german"]},
   "preferences": {"cleanliness": 4, "social_level": 3, "pets": "negotiable", "smoking": "no", "sleep_schedule": "flexible"},
   "is_active": true}
]`

func setupCLI(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0o600))

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PROFILES_FILE", path)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "cli-test-secret")
	t.Cleanup(func() { cfg = nil })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "score", "p1", "p2")
	require.NoError(t, err)

	var result scoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "p1", result.ProfileA)
	assert.Equal(t, "p2", result.ProfileB)
	assert.GreaterOrEqual(t, result.Score, 0)
	assert.LessOrEqual(t, result.Score, 100)
	assert.Equal(t, float64(100), result.Breakdown.Location)
}

func TestScoreCommand_Errors(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "score", "p1", "missing")
	assert.Error(t, err)

	_, err = execute(t, "score", "p1", "p1")
	assert.Error(t, err)

	_, err = execute(t, "score", "p1")
	assert.Error(t, err)
}

func TestGenerateCommand_RequiresTarget(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestTokenCommand(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "token", "p1")
	require.NoError(t, err)

	auth, err := middleware.NewJWTAuth(middleware.AuthConfig{Secret: "cli-test-secret", Issuer: "roommates"})
	require.NoError(t, err)
	actor, err := auth.ParseToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "p1", actor)
}

func TestMigrateCommand_MemoryStore(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema")
}

func TestInvalidDriverRejected(t *testing.T) {
	setupCLI(t)
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := execute(t, "score", "p1", "p2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "roommates dev\n", out)
}

func TestSeedCommand_RequiresPostgres(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "seed", "profiles.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
