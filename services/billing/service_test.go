package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"stockdash/config"
	"stockdash/models"
	"stockdash/services"
	"stockdash/testutil"
)

const whSecret = "whsec_test"

func newTestService(t *testing.T) (*gorm.DB, *Service, *models.User) {
	t.Helper()
	db := testutil.NewDB(t)
	user := &models.User{ID: "user-1", Email: "buyer@example.com", Role: models.RoleUser, Plan: models.PlanFree}
	require.NoError(t, db.Create(user).Error)

	svc := NewService(db, config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: whSecret,
		PriceID:       "price_pro",
		AppURL:        "http://localhost:5173",
	})
	svc.createSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		assert.Equal(t, "price_pro", *params.LineItems[0].Price)
		assert.Equal(t, "user-1", *params.ClientReferenceID)
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	}
	return db, svc, user
}

func signed(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    whSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func TestBillingDisabledWithoutKey(t *testing.T) {
	svc := NewService(testutil.NewDB(t), config.StripeConfig{})
	assert.False(t, svc.Enabled())

	_, err := svc.CreateCheckout(context.Background(), &models.User{ID: "u"})
	assert.ErrorIs(t, err, services.ErrProviderUnavailable)
	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"), services.ErrProviderUnavailable)
}

func TestWebhookNeedsKeyEvenWithSecret(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, config.StripeConfig{WebhookSecret: whSecret})

	payload, sig := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"user-1"}}}`)
	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), payload, sig), services.ErrProviderUnavailable)

	_, err := svc.Subscription(context.Background(), "user-1")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestCreateCheckoutStoresPendingSubscription(t *testing.T) {
	_, svc, user := newTestService(t)
	ctx := context.Background()

	checkout, err := svc.CreateCheckout(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", checkout.SessionID)
	assert.Contains(t, checkout.URL, "checkout.stripe.com")

	sub, err := svc.Subscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPending, sub.Status)

	// a second attempt reuses the row
	_, err = svc.CreateCheckout(ctx, user)
	require.NoError(t, err)

	pro := *user
	pro.Plan = models.PlanPro
	_, err = svc.CreateCheckout(ctx, &pro)
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCreateCheckoutProviderError(t *testing.T) {
	_, svc, user := newTestService(t)
	svc.createSession = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("stripe down")
	}
	_, err := svc.CreateCheckout(context.Background(), user)
	assert.ErrorIs(t, err, services.ErrProviderUnavailable)
}

func TestWebhookActivatesAndCancels(t *testing.T) {
	db, svc, user := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCheckout(ctx, user)
	require.NoError(t, err)

	completed := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_test_1","object":"checkout.session","client_reference_id":"%s",
		"customer":"cus_123","subscription":"sub_123"}}}`, user.ID)
	payload, header := signed(t, completed)
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", user.ID).Error)
	assert.Equal(t, models.PlanPro, reloaded.Plan)
	assert.Equal(t, "cus_123", reloaded.StripeCustomerID)

	sub, err := svc.Subscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "sub_123", sub.StripeSubscriptionID)

	deleted := `{"id":"evt_2","object":"event","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_123","object":"subscription"}}}`
	payload, header = signed(t, deleted)
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	require.NoError(t, db.First(&reloaded, "id = ?", user.ID).Error)
	assert.Equal(t, models.PlanFree, reloaded.Plan)
	sub, err = svc.Subscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	_, svc, _ := newTestService(t)
	err := svc.HandleWebhook(context.Background(), []byte(`{"type":"checkout.session.completed"}`), "t=1,v1=bogus")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	_, svc, _ := newTestService(t)
	payload, header := signed(t, `{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	assert.NoError(t, svc.HandleWebhook(context.Background(), payload, header))
}
