package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stockdash/services/auth"
)

// Context keys set by the auth middlewares
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserRole  = "user_role"
	ContextClaims    = "claims"
	ContextAuthed    = "authenticated"
)

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextAuthed, true)
	c.Set(ContextUserID, claims.Subject)
	c.Set(ContextUserEmail, claims.Email)
	c.Set(ContextUserRole, claims.AppRole())
	c.Set(ContextClaims, claims)
}

// JWTAuth rejects requests without a valid bearer token
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
			})
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Use: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token",
			})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWTAuth reads a bearer token when present but lets anonymous
// requests through.
func OptionalJWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextAuthed, false)
		if token, ok := bearerToken(c); ok {
			if claims, err := auth.ParseToken(secret, token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// AdminRole requires an admin token. It must run after JWTAuth.
func AdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required",
			})
			return
		}
		if !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin privileges required",
			})
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user's id
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}

// GetClaims returns the verified token claims
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// GetAccessToken returns the raw bearer token of the request
func GetAccessToken(c *gin.Context) string {
	token, _ := bearerToken(c)
	return token
}
