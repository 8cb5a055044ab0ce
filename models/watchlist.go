package models

import (
	"time"

	"gorm.io/gorm"
)

// Watchlist is a named list of symbols owned by a user
type Watchlist struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"size:36;index;not null" json:"user_id"`
	Name      string          `gorm:"size:64;not null" json:"name"`
	Items     []WatchlistItem `gorm:"foreignKey:WatchlistID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WatchlistItem is one symbol in a watchlist
type WatchlistItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WatchlistID uint      `gorm:"index:idx_watchlist_symbol,unique;not null" json:"watchlist_id"`
	Symbol      string    `gorm:"size:16;index:idx_watchlist_symbol,unique;not null" json:"symbol"`
	AddedAt     time.Time `json:"added_at"`
}

func (WatchlistItem) TableName() string {
	return "watchlist_items"
}

// MigrateWatchlistModels runs database migrations for watchlist models
func MigrateWatchlistModels(db *gorm.DB) error {
	return db.AutoMigrate(&Watchlist{}, &WatchlistItem{})
}
