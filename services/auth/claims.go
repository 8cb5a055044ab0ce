// Package auth signs users up and in, either through Supabase (GoTrue) or a
// local bcrypt user table, and verifies the resulting HS256 access tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stockdash/models"
	"stockdash/services"
)

const (
	RoleAuthenticated = "authenticated"
	RoleServiceRole   = "service_role"
)

// Claims mirrors the Supabase access token layout so local and Supabase
// tokens verify the same way.
type Claims struct {
	jwt.RegisteredClaims
	Email        string                 `json:"email"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	Role         string                 `json:"role"`
	SessionID    string                 `json:"session_id,omitempty"`
}

// AppRole returns the application role carried in app_metadata
func (c *Claims) AppRole() string {
	role, _ := c.AppMetadata["role"].(string)
	return role
}

// IsAdmin reports whether the token grants admin access
func (c *Claims) IsAdmin() bool {
	return c.AppRole() == models.RoleAdmin || c.Role == RoleServiceRole
}

// ParseToken verifies an HS256 token signed with secret
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret not configured: %w", services.ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %v: %w", err, services.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims: %w", services.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", services.ErrUnauthorized)
	}
	return claims, nil
}

// IssueAccessToken signs a token for user valid for ttl
func IssueAccessToken(secret []byte, user *models.User, sessionID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "stockdash",
		},
		Email:        user.Email,
		AppMetadata:  map[string]interface{}{"role": user.Role, "plan": user.Plan},
		UserMetadata: map[string]interface{}{"full_name": user.FullName},
		Role:         RoleAuthenticated,
		SessionID:    sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ResolveSecret returns the configured secret, or a random one that lives as
// long as the process when none is set.
func ResolveSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	log.Warn().Msg("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	return []byte(uuid.NewString() + uuid.NewString())
}
