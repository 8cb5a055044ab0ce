// Package orders accepts simulated buy and sell orders and fills them in the
// background.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services"
	"stockdash/services/marketdata"
)

// QuoteSource prices market orders
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// PlaceRequest is a new order as submitted by a user
type PlaceRequest struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required"`
	OrderType string          `json:"order_type"`
	Quantity  int64           `json:"quantity" binding:"required"`
	Price     decimal.Decimal `json:"price"`
}

type Service struct {
	db     *gorm.DB
	quotes QuoteSource
}

func NewService(db *gorm.DB, quotes QuoteSource) *Service {
	return &Service{db: db, quotes: quotes}
}

func (r *PlaceRequest) normalize() error {
	symbol, err := marketdata.NormalizeSymbol(r.Symbol)
	if err != nil {
		return err
	}
	r.Symbol = symbol
	r.Side = strings.ToLower(strings.TrimSpace(r.Side))
	r.OrderType = strings.ToLower(strings.TrimSpace(r.OrderType))
	if r.OrderType == "" {
		r.OrderType = models.OrderTypeMarket
	}

	if !models.IsValidSide(r.Side) {
		return fmt.Errorf("side must be buy or sell: %w", services.ErrInvalidInput)
	}
	if !models.IsValidOrderType(r.OrderType) {
		return fmt.Errorf("order type must be market or limit: %w", services.ErrInvalidInput)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive: %w", services.ErrInvalidInput)
	}
	if r.OrderType == models.OrderTypeLimit && !r.Price.IsPositive() {
		return fmt.Errorf("limit orders need a positive price: %w", services.ErrInvalidInput)
	}
	return nil
}

// Place validates and stores a pending order. Market orders are priced at the
// current quote; sells need enough shares held at placement time.
func (s *Service) Place(ctx context.Context, userID string, req PlaceRequest) (*models.Order, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	price := req.Price
	if req.OrderType == models.OrderTypeMarket {
		q, err := s.quotes.Quote(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("price market order: %w", err)
		}
		price = q.Price
	}

	if req.Side == models.SideSell {
		var h models.PortfolioHolding
		err := s.db.WithContext(ctx).Where("user_id = ? AND symbol = ?", userID, req.Symbol).First(&h).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load holding: %w", err)
		}
		if h.Quantity < req.Quantity {
			return nil, fmt.Errorf("sell %d %s with %d held: %w", req.Quantity, req.Symbol, h.Quantity, services.ErrInsufficientShares)
		}
	}

	order := &models.Order{
		UserID:    userID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     price.Round(4),
		Status:    models.OrderStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Uint("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int64("quantity", order.Quantity).
		Msg("Order placed")
	return order, nil
}

func (s *Service) Get(ctx context.Context, userID string, id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &order, nil
}

// Cancel moves a pending order to cancelled
func (s *Service) Cancel(ctx context.Context, userID string, id uint) (*models.Order, error) {
	order, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("order %d is %s: %w", id, order.Status, services.ErrConflict)
	}

	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusPending).
		Update("status", models.OrderStatusCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("order %d is no longer pending: %w", id, services.ErrConflict)
	}

	order.Status = models.OrderStatusCancelled
	return order, nil
}

func validStatus(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusFilled, models.OrderStatusCancelled, models.OrderStatusRejected:
		return true
	}
	return false
}

// List returns a page of the user's orders, newest first. An empty status
// lists every order.
func (s *Service) List(ctx context.Context, userID, status string, page, limit int) ([]models.Order, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	if status != "" {
		if !validStatus(status) {
			return nil, 0, fmt.Errorf("unknown status %q: %w", status, services.ErrInvalidInput)
		}
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	offset, size := services.Pagination(page, limit)
	var orders []models.Order
	if err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(size).Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// CountByStatus reports how many orders are in each status
func (s *Service) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// PurgeClosed deletes cancelled and rejected orders last touched before
// cutoff. Filled orders are kept for the transaction ledger.
func (s *Service) PurgeClosed(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{models.OrderStatusCancelled, models.OrderStatusRejected}, cutoff).
		Delete(&models.Order{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge orders: %w", res.Error)
	}
	return res.RowsAffected, nil
}
