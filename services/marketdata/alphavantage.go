package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"stockdash/services"
)

// AlphaVantageClient talks to the Alpha Vantage query API. The key travels in
// the query string.
type AlphaVantageClient struct {
	restClient
	apiKey string
}

// NewAlphaVantageClient creates a client limited to ratePerSecond requests
func NewAlphaVantageClient(baseURL, apiKey string, ratePerSecond float64) *AlphaVantageClient {
	return &AlphaVantageClient{
		restClient: newRESTClient(SourceAlphaVantage, baseURL, ratePerSecond),
		apiKey:     apiKey,
	}
}

// avEnvelope carries the throttling notices Alpha Vantage returns with HTTP 200
type avEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (e avEnvelope) err() error {
	switch {
	case e.ErrorMessage != "":
		return fmt.Errorf("alphavantage: %s: %w", e.ErrorMessage, services.ErrNotFound)
	case e.Note != "":
		return fmt.Errorf("alphavantage: %s: %w", e.Note, services.ErrProviderUnavailable)
	case e.Information != "":
		return fmt.Errorf("alphavantage: %s: %w", e.Information, services.ErrProviderUnavailable)
	}
	return nil
}

type avGlobalQuote struct {
	avEnvelope
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Open             string `json:"02. open"`
		High             string `json:"03. high"`
		Low              string `json:"04. low"`
		Price            string `json:"05. price"`
		Volume           string `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
		PreviousClose    string `json:"08. previous close"`
		Change           string `json:"09. change"`
		ChangePercent    string `json:"10. change percent"`
	} `json:"Global Quote"`
}

type avDailySeries struct {
	avEnvelope
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

type avSearch struct {
	avEnvelope
	BestMatches []struct {
		Symbol   string `json:"1. symbol"`
		Name     string `json:"2. name"`
		Type     string `json:"3. type"`
		Region   string `json:"4. region"`
		Currency string `json:"8. currency"`
	} `json:"bestMatches"`
}

type avOverview struct {
	avEnvelope
	Symbol               string `json:"Symbol"`
	Name                 string `json:"Name"`
	Exchange             string `json:"Exchange"`
	Industry             string `json:"Industry"`
	Country              string `json:"Country"`
	Currency             string `json:"Currency"`
	MarketCapitalization string `json:"MarketCapitalization"`
	OfficialSite         string `json:"OfficialSite"`
}

func (c *AlphaVantageClient) query(function string, extra url.Values) url.Values {
	q := url.Values{}
	q.Set("function", function)
	q.Set("apikey", c.apiKey)
	for k, v := range extra {
		q[k] = v
	}
	return q
}

// Quote fetches GLOBAL_QUOTE for a symbol
func (c *AlphaVantageClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var result avGlobalQuote
	if err := c.getJSON(ctx, "/query", c.query("GLOBAL_QUOTE", url.Values{"symbol": {symbol}}), nil, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}

	gq := result.GlobalQuote
	if gq.Price == "" {
		return nil, fmt.Errorf("alphavantage: no quote for %s: %w", symbol, services.ErrNotFound)
	}

	ts := time.Now().UTC()
	if day, err := time.Parse("2006-01-02", gq.LatestTradingDay); err == nil {
		ts = day
	}

	return &Quote{
		Symbol:        symbol,
		Price:         parseDecimal(gq.Price),
		Open:          parseDecimal(gq.Open),
		High:          parseDecimal(gq.High),
		Low:           parseDecimal(gq.Low),
		PreviousClose: parseDecimal(gq.PreviousClose),
		Change:        parseDecimal(gq.Change),
		ChangePercent: parseDecimal(gq.ChangePercent),
		Volume:        parseInt(gq.Volume),
		Timestamp:     ts,
		Source:        SourceAlphaVantage,
	}, nil
}

// DailySeries fetches TIME_SERIES_DAILY. outputSize is "compact" (100 bars) or "full".
// Bars are returned oldest first.
func (c *AlphaVantageClient) DailySeries(ctx context.Context, symbol, outputSize string) ([]Bar, error) {
	var result avDailySeries
	extra := url.Values{"symbol": {symbol}, "outputsize": {outputSize}}
	if err := c.getJSON(ctx, "/query", c.query("TIME_SERIES_DAILY", extra), nil, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	if len(result.TimeSeriesDaily) == 0 {
		return nil, fmt.Errorf("alphavantage: no history for %s: %w", symbol, services.ErrNotFound)
	}

	bars := make([]Bar, 0, len(result.TimeSeriesDaily))
	for date, data := range result.TimeSeriesDaily {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Date:   day,
			Open:   parseDecimal(data.Open),
			High:   parseDecimal(data.High),
			Low:    parseDecimal(data.Low),
			Close:  parseDecimal(data.Close),
			Volume: parseInt(data.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// Search runs SYMBOL_SEARCH
func (c *AlphaVantageClient) Search(ctx context.Context, keywords string) ([]SearchResult, error) {
	var result avSearch
	if err := c.getJSON(ctx, "/query", c.query("SYMBOL_SEARCH", url.Values{"keywords": {keywords}}), nil, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}

	matches := make([]SearchResult, 0, len(result.BestMatches))
	for _, m := range result.BestMatches {
		matches = append(matches, SearchResult{
			Symbol:   m.Symbol,
			Name:     m.Name,
			Type:     m.Type,
			Region:   m.Region,
			Currency: m.Currency,
		})
	}
	return matches, nil
}

// Overview fetches the OVERVIEW company fundamentals
func (c *AlphaVantageClient) Overview(ctx context.Context, symbol string) (*Company, error) {
	var result avOverview
	if err := c.getJSON(ctx, "/query", c.query("OVERVIEW", url.Values{"symbol": {symbol}}), nil, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	if result.Symbol == "" {
		return nil, fmt.Errorf("alphavantage: no overview for %s: %w", symbol, services.ErrNotFound)
	}

	return &Company{
		Symbol:    result.Symbol,
		Name:      result.Name,
		Exchange:  result.Exchange,
		Industry:  result.Industry,
		Country:   result.Country,
		Currency:  result.Currency,
		MarketCap: parseDecimal(result.MarketCapitalization),
		WebURL:    result.OfficialSite,
		Source:    SourceAlphaVantage,
	}, nil
}
