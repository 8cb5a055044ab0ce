package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PortfolioHolding is one open position of a user
type PortfolioHolding struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      string          `gorm:"size:36;index:idx_holding_user_symbol,unique;not null" json:"user_id"`
	Symbol      string          `gorm:"size:16;index:idx_holding_user_symbol,unique;not null" json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `gorm:"type:decimal(20,4)" json:"average_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (PortfolioHolding) TableName() string {
	return "portfolio_holdings"
}

// CostBasis returns quantity * average cost
func (h PortfolioHolding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(decimal.NewFromInt(h.Quantity))
}

// Transaction records an executed buy or sell
type Transaction struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     string          `gorm:"size:36;index;not null" json:"user_id"`
	OrderID    *uint           `gorm:"index" json:"order_id,omitempty"`
	Symbol     string          `gorm:"size:16;index" json:"symbol"`
	Side       string          `gorm:"size:4" json:"side"` // buy, sell
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	Total      decimal.Decimal `gorm:"type:decimal(24,4)" json:"total"`
	ExecutedAt time.Time       `gorm:"index" json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// PortfolioHistory is a daily valuation snapshot
type PortfolioHistory struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     string          `gorm:"size:36;index:idx_history_user_date,unique;not null" json:"user_id"`
	Date       time.Time       `gorm:"type:date;index:idx_history_user_date,unique" json:"date"`
	TotalValue decimal.Decimal `gorm:"type:decimal(24,4)" json:"total_value"`
	TotalCost  decimal.Decimal `gorm:"type:decimal(24,4)" json:"total_cost"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (PortfolioHistory) TableName() string {
	return "portfolio_history"
}

// MigratePortfolioModels runs database migrations for portfolio-related models
func MigratePortfolioModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&PortfolioHolding{},
		&Transaction{},
		&PortfolioHistory{},
	)
}
