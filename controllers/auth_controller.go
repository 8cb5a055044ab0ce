package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockdash/middleware"
	"stockdash/services"
	"stockdash/services/auth"
)

// AuthController handles sign-up, sign-in and token refresh
type AuthController struct {
	provider auth.Provider
	limiter  *middleware.LoginLimiter
}

// NewAuthController creates a new auth controller. limiter may be nil.
func NewAuthController(provider auth.Provider, limiter *middleware.LoginLimiter) *AuthController {
	return &AuthController{provider: provider, limiter: limiter}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// SignUp registers a new account
// POST /api/v1/auth/signup
func (ac *AuthController) SignUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := ac.provider.SignUp(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("user_id", session.User.ID).Str("provider", ac.provider.Name()).Msg("User signed up")
	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// SignIn exchanges credentials for a session
// POST /api/v1/auth/signin
func (ac *AuthController) SignIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := ac.provider.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if ac.limiter != nil && errors.Is(err, services.ErrUnauthorized) {
			ac.limiter.Record(c.ClientIP(), false)
		}
		respondError(c, err)
		return
	}
	if ac.limiter != nil {
		ac.limiter.Record(c.ClientIP(), true)
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// Refresh rotates a refresh token into a new session
// POST /api/v1/auth/refresh
func (ac *AuthController) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := ac.provider.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

// SignOut revokes the session
// POST /api/v1/auth/signout
func (ac *AuthController) SignOut(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// The body is optional.
	_ = c.ShouldBindJSON(&req)

	if err := ac.provider.SignOut(c.Request.Context(), middleware.GetAccessToken(c), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}
