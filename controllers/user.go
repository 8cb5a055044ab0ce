package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stockdash/models"
)

const maxProfileField = 256

// UserController serves the signed-in user's profile
type UserController struct {
	db *gorm.DB
}

// NewUserController creates a new user controller
func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

func (uc *UserController) load(c *gin.Context) (*models.User, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return nil, false
	}

	var user models.User
	if err := uc.db.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return &user, true
}

// GetProfile returns the current user
// GET /api/v1/account/profile
func (uc *UserController) GetProfile(c *gin.Context) {
	user, ok := uc.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

// UpdateProfile changes the display name and avatar
// PUT /api/v1/account/profile
func (uc *UserController) UpdateProfile(c *gin.Context) {
	var req struct {
		FullName  *string `json:"full_name"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*req.FullName)
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "No fields to update"})
		return
	}
	for field, v := range updates {
		if len(v.(string)) > maxProfileField {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": field + " is too long"})
			return
		}
	}

	user, ok := uc.load(c)
	if !ok {
		return
	}
	if err := uc.db.WithContext(c.Request.Context()).Model(user).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	if v, ok := updates["full_name"]; ok {
		user.FullName = v.(string)
	}
	if v, ok := updates["avatar_url"]; ok {
		user.AvatarURL = v.(string)
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}
