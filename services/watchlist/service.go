// Package watchlist manages named symbol lists per user.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services"
	"stockdash/services/marketdata"
)

const (
	maxNameLength = 64
	maxItems      = 100
)

// QuoteSource prices watchlist items
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

type Service struct {
	db     *gorm.DB
	quotes QuoteSource
}

func NewService(db *gorm.DB, quotes QuoteSource) *Service {
	return &Service{db: db, quotes: quotes}
}

// ItemQuote is a watchlist item with its current quote. Quote is nil when no
// price could be fetched.
type ItemQuote struct {
	models.WatchlistItem
	Quote *marketdata.Quote `json:"quote"`
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameLength {
		return "", fmt.Errorf("name must be 1-%d characters: %w", maxNameLength, services.ErrInvalidInput)
	}
	return name, nil
}

func (s *Service) owned(tx *gorm.DB, userID string, id uint) (*models.Watchlist, error) {
	var wl models.Watchlist
	err := tx.Where("id = ? AND user_id = ?", id, userID).First(&wl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("watchlist %d: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	return &wl, nil
}

// List returns the user's watchlists with their items
func (s *Service) List(ctx context.Context, userID string) ([]models.Watchlist, error) {
	var lists []models.Watchlist
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("added_at, id") }).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&lists).Error
	if err != nil {
		return nil, fmt.Errorf("list watchlists: %w", err)
	}
	return lists, nil
}

// Get returns one watchlist with its items
func (s *Service) Get(ctx context.Context, userID string, id uint) (*models.Watchlist, error) {
	wl, err := s.owned(s.db.WithContext(ctx), userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("watchlist_id = ?", id).Order("added_at, id").Find(&wl.Items).Error; err != nil {
		return nil, fmt.Errorf("load watchlist items: %w", err)
	}
	return wl, nil
}

func (s *Service) Create(ctx context.Context, userID, name string) (*models.Watchlist, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}

	wl := &models.Watchlist{UserID: userID, Name: name, Items: []models.WatchlistItem{}}
	if err := s.db.WithContext(ctx).Create(wl).Error; err != nil {
		return nil, fmt.Errorf("create watchlist: %w", err)
	}
	log.Debug().Str("user_id", userID).Uint("watchlist_id", wl.ID).Msg("Watchlist created")
	return wl, nil
}

func (s *Service) Rename(ctx context.Context, userID string, id uint, name string) (*models.Watchlist, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}

	wl, err := s.owned(s.db.WithContext(ctx), userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(wl).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("rename watchlist: %w", err)
	}
	return wl, nil
}

// Delete removes the watchlist and its items
func (s *Service) Delete(ctx context.Context, userID string, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wl, err := s.owned(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Where("watchlist_id = ?", wl.ID).Delete(&models.WatchlistItem{}).Error; err != nil {
			return fmt.Errorf("delete watchlist items: %w", err)
		}
		if err := tx.Delete(wl).Error; err != nil {
			return fmt.Errorf("delete watchlist: %w", err)
		}
		return nil
	})
}

// AddItem appends symbol. A symbol already in the list is a conflict.
func (s *Service) AddItem(ctx context.Context, userID string, id uint, symbol string) (*models.WatchlistItem, error) {
	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var item *models.WatchlistItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wl, err := s.owned(tx, userID, id)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.WatchlistItem{}).Where("watchlist_id = ?", wl.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("count watchlist items: %w", err)
		}
		if count >= maxItems {
			return fmt.Errorf("watchlist holds at most %d symbols: %w", maxItems, services.ErrConflict)
		}

		var dup int64
		if err := tx.Model(&models.WatchlistItem{}).
			Where("watchlist_id = ? AND symbol = ?", wl.ID, symbol).Count(&dup).Error; err != nil {
			return fmt.Errorf("check watchlist item: %w", err)
		}
		if dup > 0 {
			return fmt.Errorf("%s already in watchlist: %w", symbol, services.ErrConflict)
		}

		item = &models.WatchlistItem{WatchlistID: wl.ID, Symbol: symbol, AddedAt: time.Now().UTC()}
		if err := tx.Create(item).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%s already in watchlist: %w", symbol, services.ErrConflict)
			}
			return fmt.Errorf("add watchlist item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, id uint, symbol string) error {
	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wl, err := s.owned(tx, userID, id)
		if err != nil {
			return err
		}
		res := tx.Where("watchlist_id = ? AND symbol = ?", wl.ID, symbol).Delete(&models.WatchlistItem{})
		if res.Error != nil {
			return fmt.Errorf("remove watchlist item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s not in watchlist: %w", symbol, services.ErrNotFound)
		}
		return nil
	})
}

// Quotes returns every item of the watchlist with its current quote
func (s *Service) Quotes(ctx context.Context, userID string, id uint) ([]ItemQuote, error) {
	wl, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	out := make([]ItemQuote, 0, len(wl.Items))
	for _, item := range wl.Items {
		q, err := s.quotes.Quote(ctx, item.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", item.Symbol).Msg("Watchlist quote failed")
			q = nil
		}
		out = append(out, ItemQuote{WatchlistItem: item, Quote: q})
	}
	return out, nil
}
