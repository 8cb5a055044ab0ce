// Package billing sells the pro plan through Stripe Checkout.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdash/config"
	"stockdash/models"
	"stockdash/services"
)

// Checkout is the hosted payment page the browser is redirected to
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type Service struct {
	db            *gorm.DB
	cfg           config.StripeConfig
	createSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	now           func() time.Time
}

func NewService(db *gorm.DB, cfg config.StripeConfig) *Service {
	sc := &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}
	return &Service{
		db:            db,
		cfg:           cfg,
		createSession: sc.New,
		now:           time.Now,
	}
}

// Enabled reports whether a Stripe key is configured
func (s *Service) Enabled() bool {
	return s.cfg.SecretKey != ""
}

func unavailable(what string) error {
	return fmt.Errorf("%s not configured: %w", what, services.ErrProviderUnavailable)
}

// CreateCheckout opens a subscription checkout session for user and records
// the pending subscription.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User) (*Checkout, error) {
	if !s.Enabled() {
		return nil, unavailable("stripe")
	}
	if s.cfg.PriceID == "" {
		return nil, unavailable("stripe price")
	}
	if user.Plan == models.PlanPro {
		return nil, fmt.Errorf("already on the pro plan: %w", services.ErrConflict)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.cfg.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(s.cfg.AppURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cfg.AppURL + "/billing/cancelled"),
		ClientReferenceID: stripe.String(user.ID),
	}
	if user.StripeCustomerID != "" {
		params.Customer = stripe.String(user.StripeCustomerID)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", user.ID)

	cs, err := s.createSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %v: %w", err, services.ErrProviderUnavailable)
	}

	sub := models.Subscription{
		UserID:          user.ID,
		Plan:            models.PlanPro,
		Status:          models.SubscriptionPending,
		StripeSessionID: cs.ID,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "status", "stripe_session_id", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}

	log.Info().Str("user_id", user.ID).Str("session_id", cs.ID).Msg("Checkout session created")
	return &Checkout{SessionID: cs.ID, URL: cs.URL}, nil
}

// Subscription returns the user's stored subscription record. It reads the
// local table only, so it works without a Stripe key.
func (s *Service) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no subscription: %w", services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

// HandleWebhook verifies and applies a Stripe event. Unknown event types are
// acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.Enabled() {
		return unavailable("stripe")
	}
	if s.cfg.WebhookSecret == "" {
		return unavailable("stripe webhook secret")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("verify webhook: %v: %w", err, services.ErrInvalidInput)
	}

	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode checkout session: %v: %w", err, services.ErrInvalidInput)
		}
		return s.activate(ctx, &cs)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %v: %w", err, services.ErrInvalidInput)
		}
		return s.cancel(ctx, sub.ID)
	default:
		log.Debug().Str("type", string(event.Type)).Msg("Ignoring Stripe event")
		return nil
	}
}

func (s *Service) activate(ctx context.Context, cs *stripe.CheckoutSession) error {
	userID := cs.ClientReferenceID
	if userID == "" {
		userID = cs.Metadata["user_id"]
	}
	if userID == "" {
		return fmt.Errorf("checkout session %s has no user: %w", cs.ID, services.ErrInvalidInput)
	}

	subUpdates := map[string]interface{}{
		"status":            models.SubscriptionActive,
		"plan":              models.PlanPro,
		"stripe_session_id": cs.ID,
		"cancelled_at":      nil,
	}
	if cs.Subscription != nil {
		subUpdates["stripe_subscription_id"] = cs.Subscription.ID
	}
	userUpdates := map[string]interface{}{"plan": models.PlanPro}
	if cs.Customer != nil && cs.Customer.ID != "" {
		userUpdates["stripe_customer_id"] = cs.Customer.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(userUpdates)
		if res.Error != nil {
			return fmt.Errorf("upgrade user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %s: %w", userID, services.ErrNotFound)
		}

		sub := models.Subscription{UserID: userID, Plan: models.PlanPro, Status: models.SubscriptionActive}
		if err := tx.Where("user_id = ?", userID).FirstOrCreate(&sub).Error; err != nil {
			return fmt.Errorf("load subscription: %w", err)
		}
		return tx.Model(&sub).Updates(subUpdates).Error
	})
	if err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Msg("Subscription activated")
	return nil
}

func (s *Service) cancel(ctx context.Context, stripeSubscriptionID string) error {
	if stripeSubscriptionID == "" {
		return fmt.Errorf("subscription id missing: %w", services.ErrInvalidInput)
	}

	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Str("subscription_id", stripeSubscriptionID).Msg("Cancellation for unknown subscription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	now := s.now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sub).Updates(map[string]interface{}{
			"status":       models.SubscriptionCancelled,
			"cancelled_at": now,
		}).Error; err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		return tx.Model(&models.User{}).Where("id = ?", sub.UserID).Update("plan", models.PlanFree).Error
	})
	if err != nil {
		return err
	}

	log.Info().Str("user_id", sub.UserID).Msg("Subscription cancelled")
	return nil
}
