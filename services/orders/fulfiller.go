package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services"
	"stockdash/services/portfolio"
)

const DefaultFillProbability = 0.5

// Result summarises one fulfilment pass
type Result struct {
	Processed int `json:"processed"`
	Filled    int `json:"filled"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
}

// Fulfiller fills pending orders at their stored price. Each order is chosen
// by a coin flip; unchosen orders wait for the next pass.
type Fulfiller struct {
	db   *gorm.DB
	coin func() bool
	now  func() time.Time
}

func NewFulfiller(db *gorm.DB, probability float64) *Fulfiller {
	if probability < 0 || probability > 1 {
		probability = DefaultFillProbability
	}
	return &Fulfiller{
		db:   db,
		coin: func() bool { return rand.Float64() < probability },
		now:  time.Now,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeFilled
	outcomeRejected
)

// ProcessPending makes one pass over pending orders, oldest first
func (f *Fulfiller) ProcessPending(ctx context.Context) (Result, error) {
	var pending []models.Order
	err := f.db.WithContext(ctx).
		Where("status = ?", models.OrderStatusPending).
		Order("created_at ASC, id ASC").
		Find(&pending).Error
	if err != nil {
		return Result{}, fmt.Errorf("load pending orders: %w", err)
	}

	var result Result
	for i := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++

		if !f.coin() {
			result.Skipped++
			continue
		}

		out, err := f.fill(ctx, &pending[i])
		if err != nil {
			log.Error().Err(err).Uint("order_id", pending[i].ID).Msg("Order fill failed")
			result.Skipped++
			continue
		}
		switch out {
		case outcomeFilled:
			result.Filled++
		case outcomeRejected:
			result.Rejected++
		default:
			result.Skipped++
		}
	}

	if result.Processed > 0 {
		log.Info().
			Int("processed", result.Processed).
			Int("filled", result.Filled).
			Int("skipped", result.Skipped).
			Int("rejected", result.Rejected).
			Msg("Order fulfilment pass")
	}
	return result, nil
}

// fill executes one order in a single transaction. The status update is
// guarded on pending so an order cancelled mid-pass is left alone.
func (f *Fulfiller) fill(ctx context.Context, order *models.Order) (outcome, error) {
	out := outcomeSkipped
	now := f.now().UTC()

	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch order.Side {
		case models.SideBuy:
			_, err = portfolio.ApplyBuy(tx, order.UserID, order.Symbol, order.Quantity, order.Price)
		case models.SideSell:
			_, err = portfolio.ApplySell(tx, order.UserID, order.Symbol, order.Quantity)
		default:
			err = fmt.Errorf("unknown side %q: %w", order.Side, services.ErrInvalidInput)
		}

		if errors.Is(err, services.ErrInsufficientShares) || errors.Is(err, services.ErrInvalidInput) {
			res := tx.Model(&models.Order{}).
				Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
				Updates(map[string]interface{}{
					"status":        models.OrderStatusRejected,
					"reject_reason": err.Error(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				out = outcomeRejected
			}
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := portfolio.RecordTransaction(tx, order.UserID, &order.ID, order.Symbol, order.Side, order.Quantity, order.Price, now); err != nil {
			return err
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
			Updates(map[string]interface{}{
				"status":    models.OrderStatusFilled,
				"filled_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoLongerPending
		}
		out = outcomeFilled
		return nil
	})

	if errors.Is(err, errNoLongerPending) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}

	if out == outcomeFilled {
		log.Info().Uint("order_id", order.ID).Str("symbol", order.Symbol).Str("side", order.Side).Msg("Order filled")
	}
	return out, nil
}

var errNoLongerPending = errors.New("order no longer pending")
