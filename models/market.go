package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MarketIndex holds the last known level of a tracked index proxy
type MarketIndex struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"size:16;uniqueIndex" json:"symbol"`
	Name          string          `json:"name"`
	Value         decimal.Decimal `gorm:"type:decimal(20,4)" json:"value"`
	Change        decimal.Decimal `gorm:"type:decimal(20,4)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	Source        string          `json:"source"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (MarketIndex) TableName() string {
	return "market_indices"
}

// MigrateMarketModels runs database migrations for market models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(&MarketIndex{})
}
