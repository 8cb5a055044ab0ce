package marketdata

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdash/models"
)

// RefreshIndices quotes the index proxies and upserts them into market_indices
func (s *Service) RefreshIndices(ctx context.Context, db *gorm.DB) ([]models.MarketIndex, error) {
	quotes, err := s.Indices(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]models.MarketIndex, 0, len(quotes))
	for _, iq := range quotes {
		rows = append(rows, models.MarketIndex{
			Symbol:        iq.Symbol,
			Name:          iq.Name,
			Value:         iq.Quote.Price,
			Change:        iq.Quote.Change,
			ChangePercent: iq.Quote.ChangePercent,
			Source:        iq.Quote.Source,
			UpdatedAt:     s.now().UTC(),
		})
	}

	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "value", "change", "change_percent", "source", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store market indices: %w", err)
	}
	return rows, nil
}

// StoredIndices returns the last refreshed index levels
func StoredIndices(ctx context.Context, db *gorm.DB) ([]models.MarketIndex, error) {
	var rows []models.MarketIndex
	if err := db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load market indices: %w", err)
	}
	return rows, nil
}
