package marketdata

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type listing struct {
	Symbol   string
	Name     string
	Industry string
}

// universe is the static symbol list used by the mock provider
var universe = []listing{
	{"AAPL", "Apple Inc.", "Technology"},
	{"MSFT", "Microsoft Corporation", "Technology"},
	{"GOOGL", "Alphabet Inc.", "Communication Services"},
	{"AMZN", "Amazon.com Inc.", "Consumer Cyclical"},
	{"META", "Meta Platforms Inc.", "Communication Services"},
	{"NVDA", "NVIDIA Corporation", "Technology"},
	{"TSLA", "Tesla Inc.", "Consumer Cyclical"},
	{"JPM", "JPMorgan Chase & Co.", "Financial Services"},
	{"V", "Visa Inc.", "Financial Services"},
	{"JNJ", "Johnson & Johnson", "Healthcare"},
	{"WMT", "Walmart Inc.", "Consumer Defensive"},
	{"XOM", "Exxon Mobil Corporation", "Energy"},
	{"SPY", "SPDR S&P 500 ETF Trust", "ETF"},
	{"DIA", "SPDR Dow Jones Industrial Average ETF", "ETF"},
	{"QQQ", "Invesco QQQ Trust", "ETF"},
	{"IWM", "iShares Russell 2000 ETF", "ETF"},
}

func lookupListing(symbol string) (listing, bool) {
	for _, l := range universe {
		if l.Symbol == symbol {
			return l, true
		}
	}
	return listing{}, false
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// mockProvider produces deterministic data per symbol so the UI stays usable
// without API keys.
type mockProvider struct {
	now func() time.Time
}

func (m mockProvider) basePrice(symbol string) float64 {
	return 20 + float64(symbolSeed(symbol)%50000)/100
}

func (m mockProvider) Quote(symbol string) *Quote {
	r := rand.New(rand.NewSource(symbolSeed(symbol)))
	prev := decimal.NewFromFloat(m.basePrice(symbol)).Round(2)
	pct := decimal.NewFromFloat(r.Float64()*6 - 3).Round(2)
	change := prev.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
	price := prev.Add(change)
	spread := price.Mul(decimal.NewFromFloat(0.01)).Round(2)

	return &Quote{
		Symbol:        symbol,
		Price:         price,
		Open:          prev,
		High:          decimal.Max(price, prev).Add(spread),
		Low:           decimal.Min(price, prev).Sub(spread),
		PreviousClose: prev,
		Change:        change,
		ChangePercent: pct,
		Volume:        1_000_000 + r.Int63n(50_000_000),
		Timestamp:     m.now().UTC(),
		Source:        SourceMock,
	}
}

// History walks back from today over weekdays, ending at the mock quote price
func (m mockProvider) History(symbol string, days int) []Bar {
	r := rand.New(rand.NewSource(symbolSeed(symbol)))
	price := m.Quote(symbol).Price.InexactFloat64()

	bars := make([]Bar, days)
	day := m.now().UTC().Truncate(24 * time.Hour)
	for i := days - 1; i >= 0; i-- {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
		open := price * (1 + (r.Float64()-0.5)*0.02)
		high := max(open, price) * (1 + r.Float64()*0.01)
		low := min(open, price) * (1 - r.Float64()*0.01)
		bars[i] = Bar{
			Date:   day,
			Open:   decimal.NewFromFloat(open).Round(2),
			High:   decimal.NewFromFloat(high).Round(2),
			Low:    decimal.NewFromFloat(low).Round(2),
			Close:  decimal.NewFromFloat(price).Round(2),
			Volume: 500_000 + r.Int63n(20_000_000),
		}
		price = open
		day = day.AddDate(0, 0, -1)
	}
	return bars
}

func (m mockProvider) Search(query string) []SearchResult {
	q := strings.ToUpper(strings.TrimSpace(query))
	var results []SearchResult
	for _, l := range universe {
		if strings.HasPrefix(l.Symbol, q) || strings.Contains(strings.ToUpper(l.Name), q) {
			results = append(results, SearchResult{
				Symbol:   l.Symbol,
				Name:     l.Name,
				Type:     "Equity",
				Region:   "United States",
				Currency: "USD",
			})
		}
	}
	return results
}

func (m mockProvider) Company(symbol string) *Company {
	l, ok := lookupListing(symbol)
	if !ok {
		l = listing{Symbol: symbol, Name: symbol, Industry: "Unknown"}
	}
	return &Company{
		Symbol:    l.Symbol,
		Name:      l.Name,
		Exchange:  "NASDAQ",
		Industry:  l.Industry,
		Country:   "US",
		Currency:  "USD",
		MarketCap: decimal.NewFromInt(symbolSeed(symbol)%2_000_000 + 1_000).Mul(decimal.NewFromInt(1_000_000)),
		Source:    SourceMock,
	}
}

func (m mockProvider) News(topic string, limit int) []Article {
	now := m.now().UTC().Truncate(time.Hour)
	headlines := []string{
		"%s shares move as investors weigh outlook",
		"Analysts update price targets on %s",
		"What the latest earnings season means for %s",
		"%s: market watchers eye volume and momentum",
		"Five things to know about %s this week",
	}
	if limit > len(headlines) {
		limit = len(headlines)
	}

	articles := make([]Article, 0, limit)
	for i := 0; i < limit; i++ {
		articles = append(articles, Article{
			URL:         fmt.Sprintf("https://example.com/news/%s/%d", strings.ToLower(topic), i+1),
			Topic:       topic,
			Headline:    fmt.Sprintf(headlines[i], topic),
			Summary:     "Sample article shown while news providers are unavailable.",
			Publisher:   "Demo Wire",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return articles
}
