package middleware

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/meetsmatch/roommates/internal/errors"
)

// ActorKey is the gin context key holding the authenticated profile id.
const ActorKey = "actor_profile_id"

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Claims are the bearer token claims. The subject is the actor's profile id.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuth issues and validates HS256 bearer tokens.
type JWTAuth struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTAuth(config AuthConfig) (*JWTAuth, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	return &JWTAuth{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		ttl:    config.TokenTTL,
		now:    time.Now,
	}, nil
}

// IssueToken signs a token for profileID.
func (a *JWTAuth) IssueToken(profileID string) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profileID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates token and returns the profile id it was issued for.
func (a *JWTAuth) ParseToken(token string) (string, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.NewAuthenticationError("token expired")
		}
		return "", errors.NewAuthenticationError("token invalid")
	}
	if claims.Subject == "" {
		return "", errors.NewAuthenticationError("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware requires a valid bearer token and stores its subject under ActorKey.
func (a *JWTAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			_ = c.Error(errors.NewAuthenticationError("missing bearer token"))
			c.Abort()
			return
		}

		actor, err := a.ParseToken(strings.TrimSpace(token))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// ActorFromContext returns the authenticated profile id, if any.
func ActorFromContext(c *gin.Context) (string, bool) {
	actor := c.GetString(ActorKey)
	return actor, actor != ""
}
