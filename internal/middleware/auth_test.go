package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsmatch/roommates/internal/errors"
)

func newTestAuth(t *testing.T) *JWTAuth {
	t.Helper()
	auth, err := NewJWTAuth(AuthConfig{Secret: "test-secret", Issuer: "roommates", TokenTTL: time.Hour})
	require.NoError(t, err)
	return auth
}

func TestNewJWTAuth_RequiresSecret(t *testing.T) {
	_, err := NewJWTAuth(AuthConfig{})
	assert.Error(t, err)
}

func TestJWTAuth_RoundTrip(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.IssueToken("profile-1")
	require.NoError(t, err)

	actor, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "profile-1", actor)
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := newTestAuth(t)

	other, err := NewJWTAuth(AuthConfig{Secret: "other-secret", Issuer: "roommates"})
	require.NoError(t, err)
	foreign, err := other.IssueToken("profile-1")
	require.NoError(t, err)

	expiredAuth := newTestAuth(t)
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredAuth.IssueToken("profile-1")
	require.NoError(t, err)

	wrongIssuer, err := NewJWTAuth(AuthConfig{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	misissued, err := wrongIssuer.IssueToken("profile-1")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "profile-1", "iss": "roommates"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"Wrong secret", foreign, "token invalid"},
		{"Expired", expired, "token expired"},
		{"Wrong issuer", misissued, "token invalid"},
		{"Unsigned", noneToken, "token invalid"},
		{"Garbage", "not-a-jwt", "token invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ParseToken(tt.token)
			require.Error(t, err)
			assert.True(t, errors.IsErrorType(err, errors.ErrorTypeAuthentication))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestJWTAuth_Middleware(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueToken("profile-7")
	require.NoError(t, err)

	r := gin.New()
	r.Use(ErrorHandler(), auth.Middleware())
	r.GET("/me", func(c *gin.Context) {
		actor, _ := ActorFromContext(c)
		c.String(http.StatusOK, actor)
	})

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedBody   string
	}{
		{"Valid token", "Bearer " + token, http.StatusOK, "profile-7"},
		{"Missing header", "", http.StatusUnauthorized, ""},
		{"Wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"Bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}
