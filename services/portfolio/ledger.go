package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdash/models"
	"stockdash/services"
)

// WeightedAverage returns the average cost after buying qty at price on top
// of heldQty at avgCost.
func WeightedAverage(heldQty int64, avgCost decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	total := heldQty + qty
	if total <= 0 {
		return decimal.Zero
	}
	held := avgCost.Mul(decimal.NewFromInt(heldQty))
	bought := price.Mul(decimal.NewFromInt(qty))
	return held.Add(bought).Div(decimal.NewFromInt(total)).Round(4)
}

func findHolding(tx *gorm.DB, userID, symbol string) (*models.PortfolioHolding, error) {
	var h models.PortfolioHolding
	err := tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load holding: %w", err)
	}
	return &h, nil
}

// ApplyBuy adds qty shares at price to the user's holding, creating it when
// absent. It must run inside a transaction.
func ApplyBuy(tx *gorm.DB, userID, symbol string, qty int64, price decimal.Decimal) (*models.PortfolioHolding, error) {
	h, err := findHolding(tx, userID, symbol)
	if err != nil {
		return nil, err
	}

	if h == nil {
		created := &models.PortfolioHolding{
			UserID:      userID,
			Symbol:      symbol,
			Quantity:    qty,
			AverageCost: price.Round(4),
		}
		inserted, err := insertHolding(tx, created)
		if err != nil {
			return nil, err
		}
		if inserted {
			return created, nil
		}

		// a concurrent buy created the row first; merge into it
		if h, err = findHolding(tx, userID, symbol); err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("holding %s changed concurrently: %w", symbol, services.ErrConflict)
		}
	}

	h.AverageCost = WeightedAverage(h.Quantity, h.AverageCost, qty, price)
	h.Quantity += qty
	if err := tx.Model(h).Updates(map[string]interface{}{
		"quantity":     h.Quantity,
		"average_cost": h.AverageCost,
	}).Error; err != nil {
		return nil, fmt.Errorf("update holding: %w", err)
	}
	return h, nil
}

// insertHolding creates h unless the user already holds the symbol. It
// reports false when the row existed.
func insertHolding(tx *gorm.DB, h *models.PortfolioHolding) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
		DoNothing: true,
	}).Create(h)
	if res.Error != nil {
		return false, fmt.Errorf("create holding: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ApplySell removes qty shares from the user's holding. The holding is deleted
// when it reaches zero; the average cost never changes on a sell.
func ApplySell(tx *gorm.DB, userID, symbol string, qty int64) (*models.PortfolioHolding, error) {
	h, err := findHolding(tx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Quantity < qty {
		held := int64(0)
		if h != nil {
			held = h.Quantity
		}
		return nil, fmt.Errorf("sell %d %s with %d held: %w", qty, symbol, held, services.ErrInsufficientShares)
	}

	h.Quantity -= qty
	if h.Quantity == 0 {
		if err := tx.Delete(h).Error; err != nil {
			return nil, fmt.Errorf("delete holding: %w", err)
		}
		return h, nil
	}

	if err := tx.Model(h).Update("quantity", h.Quantity).Error; err != nil {
		return nil, fmt.Errorf("update holding: %w", err)
	}
	return h, nil
}

// RecordTransaction appends an executed trade to the user's ledger
func RecordTransaction(tx *gorm.DB, userID string, orderID *uint, symbol, side string, qty int64, price decimal.Decimal, at time.Time) (*models.Transaction, error) {
	t := &models.Transaction{
		UserID:     userID,
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Total:      price.Mul(decimal.NewFromInt(qty)),
		ExecutedAt: at.UTC(),
	}
	if err := tx.Create(t).Error; err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	return t, nil
}
