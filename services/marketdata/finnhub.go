package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"stockdash/services"
)

// FinnhubClient calls the Finnhub REST API. The token goes in the
// X-Finnhub-Token header.
type FinnhubClient struct {
	restClient
	apiKey string
}

// NewFinnhubClient creates a client limited to ratePerSecond requests
func NewFinnhubClient(baseURL, apiKey string, ratePerSecond float64) *FinnhubClient {
	return &FinnhubClient{
		restClient: newRESTClient(SourceFinnhub, baseURL, ratePerSecond),
		apiKey:     apiKey,
	}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

type finnhubNews struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Image    string `json:"image"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

type finnhubProfile struct {
	Country   string  `json:"country"`
	Currency  string  `json:"currency"`
	Exchange  string  `json:"exchange"`
	Industry  string  `json:"finnhubIndustry"`
	Logo      string  `json:"logo"`
	MarketCap float64 `json:"marketCapitalization"` // millions
	Name      string  `json:"name"`
	Ticker    string  `json:"ticker"`
	WebURL    string  `json:"weburl"`
}

func (c *FinnhubClient) header() http.Header {
	h := http.Header{}
	h.Set("X-Finnhub-Token", c.apiKey)
	return h
}

// Quote fetches the real-time quote. Finnhub answers unknown symbols with all zeros.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var result finnhubQuote
	if err := c.getJSON(ctx, "/quote", url.Values{"symbol": {symbol}}, c.header(), &result); err != nil {
		return nil, err
	}
	if result.Current == 0 && result.Timestamp == 0 {
		return nil, fmt.Errorf("finnhub: no quote for %s: %w", symbol, services.ErrNotFound)
	}

	return &Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(result.Current),
		Open:          decimal.NewFromFloat(result.Open),
		High:          decimal.NewFromFloat(result.High),
		Low:           decimal.NewFromFloat(result.Low),
		PreviousClose: decimal.NewFromFloat(result.PreviousClose),
		Change:        decimal.NewFromFloat(result.Change),
		ChangePercent: decimal.NewFromFloat(result.ChangePercent),
		Timestamp:     time.Unix(result.Timestamp, 0).UTC(),
		Source:        SourceFinnhub,
	}, nil
}

// CompanyNews lists articles about symbol published between from and to
func (c *FinnhubClient) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]Article, error) {
	q := url.Values{
		"symbol": {symbol},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}

	var result []finnhubNews
	if err := c.getJSON(ctx, "/company-news", q, c.header(), &result); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(result))
	for _, n := range result {
		if n.URL == "" {
			continue
		}
		articles = append(articles, Article{
			URL:         n.URL,
			Topic:       symbol,
			Headline:    n.Headline,
			Summary:     n.Summary,
			Publisher:   n.Source,
			ImageURL:    n.Image,
			PublishedAt: time.Unix(n.Datetime, 0).UTC(),
		})
	}
	return articles, nil
}

// Profile fetches /stock/profile2
func (c *FinnhubClient) Profile(ctx context.Context, symbol string) (*Company, error) {
	var result finnhubProfile
	if err := c.getJSON(ctx, "/stock/profile2", url.Values{"symbol": {symbol}}, c.header(), &result); err != nil {
		return nil, err
	}
	if result.Ticker == "" {
		return nil, fmt.Errorf("finnhub: no profile for %s: %w", symbol, services.ErrNotFound)
	}

	return &Company{
		Symbol:    result.Ticker,
		Name:      result.Name,
		Exchange:  result.Exchange,
		Industry:  result.Industry,
		Country:   result.Country,
		Currency:  result.Currency,
		MarketCap: decimal.NewFromFloat(result.MarketCap).Mul(decimal.NewFromInt(1_000_000)),
		WebURL:    result.WebURL,
		Logo:      result.Logo,
		Source:    SourceFinnhub,
	}, nil
}
