package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	rmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"stockdash/services"
)

const polygonMaxBars = 5000

// PolygonClient reads aggregate bars from Polygon.io
type PolygonClient struct {
	rest    *polygonrest.Client
	limiter *rate.Limiter
}

// NewPolygonClient creates a client limited to ratePerSecond requests.
// An empty baseURL keeps the library's default host.
func NewPolygonClient(baseURL, apiKey string, ratePerSecond float64) *PolygonClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}

	rest := polygonrest.NewWithClient(apiKey, &http.Client{Timeout: defaultHTTPTimeout})
	if baseURL != "" {
		rest.HTTP.SetBaseURL(baseURL)
	}

	return &PolygonClient{
		rest:    rest,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

func polygonBar(a rmodels.Agg) Bar {
	return Bar{
		Date:   time.Time(a.Timestamp).UTC().Truncate(24 * time.Hour),
		Open:   decimal.NewFromFloat(a.Open),
		High:   decimal.NewFromFloat(a.High),
		Low:    decimal.NewFromFloat(a.Low),
		Close:  decimal.NewFromFloat(a.Close),
		Volume: int64(a.Volume),
	}
}

func (c *PolygonClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// PreviousClose returns the prior session's bar as a quote
func (c *PolygonClient) PreviousClose(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	adjusted := true
	resp, err := c.rest.GetPreviousCloseAgg(ctx, &rmodels.GetPreviousCloseAggParams{
		Ticker:   symbol,
		Adjusted: &adjusted,
	})
	if err != nil {
		return nil, fmt.Errorf("polygon previous close %s: %v: %w", symbol, err, services.ErrProviderUnavailable)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("polygon: no previous close for %s: %w", symbol, services.ErrNotFound)
	}

	bar := polygonBar(resp.Results[0])
	change := bar.Close.Sub(bar.Open)
	changePercent := decimal.Zero
	if !bar.Open.IsZero() {
		changePercent = change.Div(bar.Open).Mul(decimal.NewFromInt(100)).Round(4)
	}

	return &Quote{
		Symbol:        symbol,
		Price:         bar.Close,
		Open:          bar.Open,
		High:          bar.High,
		Low:           bar.Low,
		PreviousClose: bar.Open,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        bar.Volume,
		Timestamp:     bar.Date,
		Source:        SourcePolygon,
	}, nil
}

// Aggregates returns daily bars between from and to inclusive, oldest first
func (c *PolygonClient) Aggregates(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	limit := polygonMaxBars
	order := rmodels.Asc
	adjusted := true
	params := &rmodels.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   rmodels.Day,
		From:       rmodels.Millis(from),
		To:         rmodels.Millis(to),
		Adjusted:   &adjusted,
		Order:      &order,
		Limit:      &limit,
	}

	var bars []Bar
	iter := c.rest.ListAggs(ctx, params)
	for iter.Next() {
		bars = append(bars, polygonBar(iter.Item()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggregates %s: %v: %w", symbol, err, services.ErrProviderUnavailable)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("polygon: no aggregates for %s: %w", symbol, services.ErrNotFound)
	}
	return bars, nil
}
