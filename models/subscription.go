package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription statuses
const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
)

// Subscription tracks a user's paid plan, backed by Stripe
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               string     `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	StripeSessionID      string     `gorm:"index" json:"-"`
	StripeSubscriptionID string     `gorm:"index" json:"-"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelledAt          *time.Time `json:"cancelled_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// MigrateSubscriptionModels runs database migrations for subscription-related models
func MigrateSubscriptionModels(db *gorm.DB) error {
	return db.AutoMigrate(&Subscription{})
}

// MigrateModels migrates every table the API owns
func MigrateModels(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		MigrateUserModels,
		MigratePortfolioModels,
		MigrateOrderModels,
		MigrateWatchlistModels,
		MigrateMarketModels,
		MigrateSubscriptionModels,
	}
	for _, migrate := range migrations {
		if err := migrate(db); err != nil {
			return err
		}
	}
	return nil
}
