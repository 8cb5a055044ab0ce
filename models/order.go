package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Order is a user's request to trade. Pending orders are picked up by the fulfiller.
type Order struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       string          `gorm:"size:36;index;not null" json:"user_id"`
	Symbol       string          `gorm:"size:16;index" json:"symbol"`
	Side         string          `gorm:"size:4" json:"side"`
	OrderType    string          `gorm:"size:8" json:"order_type"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	Status       string          `gorm:"size:16;index;default:'pending'" json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	FilledAt     *time.Time      `json:"filled_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsValidSide checks the order side
func IsValidSide(side string) bool {
	return side == SideBuy || side == SideSell
}

// IsValidOrderType checks the order type
func IsValidOrderType(orderType string) bool {
	return orderType == OrderTypeMarket || orderType == OrderTypeLimit
}

// MigrateOrderModels runs database migrations for order models
func MigrateOrderModels(db *gorm.DB) error {
	return db.AutoMigrate(&Order{})
}
