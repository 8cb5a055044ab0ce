package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/models"
	"stockdash/services"
	"stockdash/services/marketdata"
	"stockdash/testutil"
)

type fixedQuotes map[string]string

func (f fixedQuotes) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	p, ok := f[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &marketdata.Quote{
		Symbol: symbol,
		Price:  decimal.RequireFromString(p),
		Change: decimal.NewFromInt(1),
		Source: marketdata.SourceMock,
	}, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, quotes fixedQuotes) *Service {
	t.Helper()
	svc := NewService(testutil.NewDB(t), quotes)
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC) }
	return svc
}

func TestWeightedAverage(t *testing.T) {
	got := WeightedAverage(10, dec("100"), 10, dec("120"))
	assert.Equal(t, "110", got.String())

	got = WeightedAverage(0, decimal.Zero, 5, dec("42.5"))
	assert.Equal(t, "42.5", got.String())

	got = WeightedAverage(3, dec("10"), 1, dec("11"))
	assert.Equal(t, "10.25", got.String())
}

func TestAddHoldingMergesAtWeightedAverage(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.AddHolding(ctx, "u1", "aapl", 10, dec("100"))
	require.NoError(t, err)
	h, err := svc.AddHolding(ctx, "u1", "AAPL", 30, dec("120"))
	require.NoError(t, err)

	assert.Equal(t, int64(40), h.Quantity)
	assert.Equal(t, "115", h.AverageCost.String())

	holdings, err := svc.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].AverageCost.Equal(dec("115")))

	txs, total, err := svc.Transactions(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, models.SideBuy, tx.Side)
	}
}

func TestAddHoldingValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.AddHolding(ctx, "u1", "", 1, dec("1"))
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = svc.AddHolding(ctx, "u1", "AAPL", 0, dec("1"))
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = svc.AddHolding(ctx, "u1", "AAPL", 1, dec("-1"))
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestUpdateHoldingBooksDelta(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	h, err := svc.AddHolding(ctx, "u1", "MSFT", 10, dec("300"))
	require.NoError(t, err)

	qty := int64(4)
	updated, err := svc.UpdateHolding(ctx, "u1", h.ID, HoldingUpdate{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Quantity)

	txs, _, err := svc.Transactions(ctx, "u1", 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	sells := 0
	for _, tx := range txs {
		if tx.Side == models.SideSell {
			sells++
			assert.Equal(t, int64(6), tx.Quantity)
		}
	}
	assert.Equal(t, 1, sells)

	cost := dec("310")
	updated, err = svc.UpdateHolding(ctx, "u1", h.ID, HoldingUpdate{AverageCost: &cost})
	require.NoError(t, err)
	assert.True(t, updated.AverageCost.Equal(cost))

	zero := int64(0)
	_, err = svc.UpdateHolding(ctx, "u1", h.ID, HoldingUpdate{Quantity: &zero})
	require.NoError(t, err)
	holdings, err := svc.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestHoldingsAreScopedToOwner(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	h, err := svc.AddHolding(ctx, "owner", "TSLA", 1, dec("250"))
	require.NoError(t, err)

	qty := int64(5)
	_, err = svc.UpdateHolding(ctx, "intruder", h.ID, HoldingUpdate{Quantity: &qty})
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteHolding(ctx, "intruder", h.ID), services.ErrNotFound)

	require.NoError(t, svc.DeleteHolding(ctx, "owner", h.ID))
	holdings, err := svc.ListHoldings(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestSummaryValuesAtQuote(t *testing.T) {
	svc := newTestService(t, fixedQuotes{"AAPL": "150", "MSFT": "90"})
	ctx := context.Background()

	_, err := svc.AddHolding(ctx, "u1", "AAPL", 10, dec("100"))
	require.NoError(t, err)
	_, err = svc.AddHolding(ctx, "u1", "MSFT", 10, dec("100"))
	require.NoError(t, err)
	_, err = svc.AddHolding(ctx, "u1", "NOQ", 2, dec("50"))
	require.NoError(t, err)

	s, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, s.Positions, 3)

	assert.Equal(t, "AAPL", s.Positions[0].Symbol)
	assert.Equal(t, "500", s.Positions[0].UnrealizedPL.String())
	assert.Equal(t, "50", s.Positions[0].UnrealizedPLPercent.String())

	noq := s.Positions[2]
	assert.Equal(t, "NOQ", noq.Symbol)
	assert.Equal(t, "cost", noq.PriceSource)
	assert.True(t, noq.UnrealizedPL.IsZero())

	assert.Equal(t, "2500", s.TotalValue.String())
	assert.Equal(t, "2100", s.TotalCost.String())
	assert.Equal(t, "400", s.UnrealizedPL.String())
	assert.Equal(t, "20", s.DayChange.String())
}

func TestSnapshotHistoryUpserts(t *testing.T) {
	quotes := fixedQuotes{"AAPL": "150"}
	svc := newTestService(t, quotes)
	ctx := context.Background()

	_, err := svc.AddHolding(ctx, "u1", "AAPL", 10, dec("100"))
	require.NoError(t, err)

	day := time.Date(2026, 10, 19, 21, 15, 0, 0, time.UTC)
	n, err := svc.SnapshotHistory(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	quotes["AAPL"] = "160"
	_, err = svc.SnapshotHistory(ctx, day)
	require.NoError(t, err)

	rows, err := svc.History(ctx, "u1", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].TotalValue.Equal(dec("1600")))
	assert.True(t, rows[0].TotalCost.Equal(dec("1000")))

	_, err = svc.History(ctx, "u1", 0)
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestApplySellInsufficient(t *testing.T) {
	db := testutil.NewDB(t)

	_, err := ApplySell(db, "u1", "AAPL", 1)
	assert.ErrorIs(t, err, services.ErrInsufficientShares)

	_, err = ApplyBuy(db, "u1", "AAPL", 5, dec("10"))
	require.NoError(t, err)
	_, err = ApplySell(db, "u1", "AAPL", 6)
	assert.ErrorIs(t, err, services.ErrInsufficientShares)

	h, err := ApplySell(db, "u1", "AAPL", 5)
	require.NoError(t, err)
	assert.Zero(t, h.Quantity)

	var count int64
	require.NoError(t, db.Model(&models.PortfolioHolding{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPurgeHistory(t *testing.T) {
	svc := newTestService(t, fixedQuotes{})
	for _, d := range []time.Time{
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, svc.db.Create(&models.PortfolioHistory{UserID: "u1", Date: d}).Error)
	}

	n, err := svc.PurgeHistory(context.Background(), time.Date(2021, 10, 19, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertHoldingSkipsExisting(t *testing.T) {
	db := testutil.NewDB(t)

	inserted, err := insertHolding(db, &models.PortfolioHolding{UserID: "u1", Symbol: "AAPL", Quantity: 10, AverageCost: dec("100")})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = insertHolding(db, &models.PortfolioHolding{UserID: "u1", Symbol: "AAPL", Quantity: 5, AverageCost: dec("200")})
	require.NoError(t, err)
	assert.False(t, inserted)

	var held models.PortfolioHolding
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", "u1", "AAPL").First(&held).Error)
	assert.Equal(t, int64(10), held.Quantity)
	assert.True(t, held.AverageCost.Equal(dec("100")))

	inserted, err = insertHolding(db, &models.PortfolioHolding{UserID: "u2", Symbol: "AAPL", Quantity: 1, AverageCost: dec("1")})
	require.NoError(t, err)
	assert.True(t, inserted)
}
