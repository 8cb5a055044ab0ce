package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services/billing"
)

// Stripe signs webhook bodies well under this size
const maxWebhookBody = 64 << 10

// SubscriptionController handles the pro plan checkout and Stripe webhooks
type SubscriptionController struct {
	db      *gorm.DB
	billing *billing.Service
}

// NewSubscriptionController creates a new subscription controller
func NewSubscriptionController(db *gorm.DB, billingSvc *billing.Service) *SubscriptionController {
	return &SubscriptionController{db: db, billing: billingSvc}
}

// GetSubscription returns the user's subscription
// GET /api/v1/account/subscription
func (sc *SubscriptionController) GetSubscription(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	sub, err := sc.billing.Subscription(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

// CreateCheckout starts a Stripe Checkout session for the pro plan
// POST /api/v1/account/checkout
func (sc *SubscriptionController) CreateCheckout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var user models.User
	if err := sc.db.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
		return
	}

	checkout, err := sc.billing.CreateCheckout(c.Request.Context(), &user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": checkout})
}

// Webhook receives Stripe events
// POST /billing/webhook
func (sc *SubscriptionController) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := sc.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
