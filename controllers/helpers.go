package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockdash/middleware"
	"stockdash/services"
)

// respondError maps service errors onto HTTP statuses. Anything unknown is
// logged and reported as a 500 without details.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInsufficientShares):
		status, code = http.StatusUnprocessableEntity, "insufficient_shares"
	case errors.Is(err, services.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrProviderUnavailable):
		status, code = http.StatusServiceUnavailable, "provider_unavailable"
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": code, "message": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
}

// pageParams reads ?page= and ?limit=. Bad values fall back to the defaults.
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultPageSize)))
	if err != nil {
		limit = services.DefaultPageSize
	}
	_, limit = services.Pagination(page, limit)
	return page, limit
}

func paginated(c *gin.Context, data interface{}, page, limit int, total int64) {
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// idParam parses a numeric path parameter and writes a 400 when it is not one
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// currentUser returns the authenticated user id. Routes using it sit behind
// JWTAuth, so a miss is a wiring error and answers 401.
func currentUser(c *gin.Context) (string, bool) {
	id, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User not authenticated"})
	}
	return id, ok
}
