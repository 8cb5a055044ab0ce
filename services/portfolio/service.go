// Package portfolio manages holdings, the transaction ledger and daily
// valuation snapshots.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdash/models"
	"stockdash/services"
	"stockdash/services/marketdata"
)

// QuoteSource prices holdings
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

type Service struct {
	db     *gorm.DB
	quotes QuoteSource
	now    func() time.Time
}

func NewService(db *gorm.DB, quotes QuoteSource) *Service {
	return &Service{db: db, quotes: quotes, now: time.Now}
}

// Position is a holding valued at the current quote
type Position struct {
	models.PortfolioHolding
	Price               decimal.Decimal `json:"price"`
	PriceSource         string          `json:"price_source"`
	MarketValue         decimal.Decimal `json:"market_value"`
	CostBasis           decimal.Decimal `json:"cost_basis"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealized_pl_percent"`
	DayChange           decimal.Decimal `json:"day_change"`
}

// Summary is the valued portfolio of one user
type Summary struct {
	Positions           []Position      `json:"positions"`
	TotalValue          decimal.Decimal `json:"total_value"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealized_pl_percent"`
	DayChange           decimal.Decimal `json:"day_change"`
	AsOf                time.Time       `json:"as_of"`
}

func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2)
}

func validQuantity(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive: %w", services.ErrInvalidInput)
	}
	return nil
}

func validPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive: %w", services.ErrInvalidInput)
	}
	return nil
}

// ListHoldings returns the user's holdings ordered by symbol
func (s *Service) ListHoldings(ctx context.Context, userID string) ([]models.PortfolioHolding, error) {
	var holdings []models.PortfolioHolding
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("symbol").Find(&holdings).Error
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return holdings, nil
}

func (s *Service) getHolding(tx *gorm.DB, userID string, id uint) (*models.PortfolioHolding, error) {
	var h models.PortfolioHolding
	err := tx.Where("id = ? AND user_id = ?", id, userID).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("holding %d: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load holding: %w", err)
	}
	return &h, nil
}

// AddHolding records a manual buy. A symbol already held is merged at the
// weighted average cost.
func (s *Service) AddHolding(ctx context.Context, userID, symbol string, qty int64, price decimal.Decimal) (*models.PortfolioHolding, error) {
	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := validQuantity(qty); err != nil {
		return nil, err
	}
	if err := validPrice(price); err != nil {
		return nil, err
	}

	var holding *models.PortfolioHolding
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := ApplyBuy(tx, userID, symbol, qty, price)
		if err != nil {
			return err
		}
		if _, err := RecordTransaction(tx, userID, nil, symbol, models.SideBuy, qty, price, s.now()); err != nil {
			return err
		}
		holding = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Str("symbol", symbol).Int64("quantity", qty).Msg("Holding added")
	return holding, nil
}

// HoldingUpdate carries the optional fields of UpdateHolding
type HoldingUpdate struct {
	Quantity    *int64
	AverageCost *decimal.Decimal
}

// UpdateHolding edits quantity and/or average cost. A quantity change is
// booked as a buy or sell at the resulting average cost; zero removes the holding.
func (s *Service) UpdateHolding(ctx context.Context, userID string, id uint, upd HoldingUpdate) (*models.PortfolioHolding, error) {
	if upd.Quantity == nil && upd.AverageCost == nil {
		return nil, fmt.Errorf("nothing to update: %w", services.ErrInvalidInput)
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		return nil, fmt.Errorf("quantity cannot be negative: %w", services.ErrInvalidInput)
	}
	if upd.AverageCost != nil {
		if err := validPrice(*upd.AverageCost); err != nil {
			return nil, err
		}
	}

	var holding *models.PortfolioHolding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := s.getHolding(tx, userID, id)
		if err != nil {
			return err
		}

		if upd.AverageCost != nil {
			h.AverageCost = upd.AverageCost.Round(4)
		}

		if upd.Quantity != nil && *upd.Quantity != h.Quantity {
			delta := *upd.Quantity - h.Quantity
			side := models.SideBuy
			if delta < 0 {
				side = models.SideSell
				delta = -delta
			}
			if _, err := RecordTransaction(tx, userID, nil, h.Symbol, side, delta, h.AverageCost, s.now()); err != nil {
				return err
			}
			h.Quantity = *upd.Quantity
		}

		if h.Quantity == 0 {
			if err := tx.Delete(h).Error; err != nil {
				return fmt.Errorf("delete holding: %w", err)
			}
			holding = h
			return nil
		}

		if err := tx.Model(h).Updates(map[string]interface{}{
			"quantity":     h.Quantity,
			"average_cost": h.AverageCost,
		}).Error; err != nil {
			return fmt.Errorf("update holding: %w", err)
		}
		holding = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return holding, nil
}

// DeleteHolding removes a holding, booking a sell of the full quantity at its average cost
func (s *Service) DeleteHolding(ctx context.Context, userID string, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := s.getHolding(tx, userID, id)
		if err != nil {
			return err
		}
		if _, err := RecordTransaction(tx, userID, nil, h.Symbol, models.SideSell, h.Quantity, h.AverageCost, s.now()); err != nil {
			return err
		}
		if err := tx.Delete(h).Error; err != nil {
			return fmt.Errorf("delete holding: %w", err)
		}
		return nil
	})
}

func (s *Service) value(ctx context.Context, holdings []models.PortfolioHolding) *Summary {
	summary := &Summary{
		Positions:  make([]Position, 0, len(holdings)),
		TotalValue: decimal.Zero,
		TotalCost:  decimal.Zero,
		DayChange:  decimal.Zero,
		AsOf:       s.now().UTC(),
	}

	for _, h := range holdings {
		qty := decimal.NewFromInt(h.Quantity)
		p := Position{PortfolioHolding: h, Price: h.AverageCost, PriceSource: "cost", DayChange: decimal.Zero}

		q, err := s.quotes.Quote(ctx, h.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", h.Symbol).Msg("Quote failed, valuing at cost")
		} else {
			p.Price = q.Price
			p.PriceSource = q.Source
			p.DayChange = q.Change.Mul(qty)
		}

		p.MarketValue = p.Price.Mul(qty)
		p.CostBasis = h.CostBasis()
		p.UnrealizedPL = p.MarketValue.Sub(p.CostBasis)
		p.UnrealizedPLPercent = percent(p.UnrealizedPL, p.CostBasis)

		summary.Positions = append(summary.Positions, p)
		summary.TotalValue = summary.TotalValue.Add(p.MarketValue)
		summary.TotalCost = summary.TotalCost.Add(p.CostBasis)
		summary.DayChange = summary.DayChange.Add(p.DayChange)
	}

	sort.SliceStable(summary.Positions, func(i, j int) bool {
		return summary.Positions[i].MarketValue.GreaterThan(summary.Positions[j].MarketValue)
	})
	summary.UnrealizedPL = summary.TotalValue.Sub(summary.TotalCost)
	summary.UnrealizedPLPercent = percent(summary.UnrealizedPL, summary.TotalCost)
	return summary
}

// Summary values every holding at its current quote
func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	holdings, err := s.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.value(ctx, holdings), nil
}

// Transactions returns a page of the user's ledger, newest first, and the total count
func (s *Service) Transactions(ctx context.Context, userID string, page, limit int) ([]models.Transaction, int64, error) {
	offset, size := services.Pagination(page, limit)
	q := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	var txs []models.Transaction
	if err := q.Order("executed_at DESC, id DESC").Offset(offset).Limit(size).Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txs, total, nil
}

// SnapshotHistory stores one valuation row per user with holdings for date.
// Running it twice for the same date overwrites the earlier row.
func (s *Service) SnapshotHistory(ctx context.Context, date time.Time) (int, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&models.PortfolioHolding{}).
		Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return 0, fmt.Errorf("list portfolio owners: %w", err)
	}

	written := 0
	for _, userID := range userIDs {
		summary, err := s.Summary(ctx, userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Snapshot valuation failed")
			continue
		}

		row := models.PortfolioHistory{
			UserID:     userID,
			Date:       day,
			TotalValue: summary.TotalValue,
			TotalCost:  summary.TotalCost,
		}
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_value", "total_cost"}),
		}).Create(&row).Error
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Snapshot write failed")
			continue
		}
		written++
	}

	log.Info().Int("users", written).Time("date", day).Msg("Portfolio history snapshot")
	return written, nil
}

// History returns the user's snapshots for the last days days, oldest first
func (s *Service) History(ctx context.Context, userID string, days int) ([]models.PortfolioHistory, error) {
	if days < 1 || days > marketdata.MaxHistoryDays {
		return nil, fmt.Errorf("days must be between 1 and %d: %w", marketdata.MaxHistoryDays, services.ErrInvalidInput)
	}
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)

	var rows []models.PortfolioHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, since).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load portfolio history: %w", err)
	}
	return rows, nil
}

// PurgeHistory deletes snapshots dated before cutoff
func (s *Service) PurgeHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(&models.PortfolioHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
