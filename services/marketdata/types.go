package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Data sources reported in Source fields
const (
	SourceCache        = "cache"
	SourceAlphaVantage = "alphavantage"
	SourcePolygon      = "polygon"
	SourceFinnhub      = "finnhub"
	SourceNewsAPI      = "newsapi"
	SourceArchive      = "archive"
	SourceMock         = "mock"
)

// Quote is the latest price snapshot of a symbol
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// Bar is one daily OHLCV candle
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// History is a daily series for one symbol, oldest bar first
type History struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
	Source string `json:"source"`
}

// SearchResult is a symbol lookup match
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

// Company is basic profile information
type Company struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange"`
	Industry  string          `json:"industry"`
	Country   string          `json:"country"`
	Currency  string          `json:"currency"`
	MarketCap decimal.Decimal `json:"market_cap"`
	WebURL    string          `json:"web_url"`
	Logo      string          `json:"logo"`
	Source    string          `json:"source"`
}

// Article is a news item. Topic is the symbol or category it was fetched for.
type Article struct {
	URL         string    `json:"url" bson:"_id"`
	Topic       string    `json:"topic" bson:"topic"`
	Headline    string    `json:"headline" bson:"headline"`
	Summary     string    `json:"summary" bson:"summary"`
	Publisher   string    `json:"publisher" bson:"publisher"`
	ImageURL    string    `json:"image_url" bson:"image_url"`
	PublishedAt time.Time `json:"published_at" bson:"published_at"`
}

// NewsFeed is a list of articles and where they came from
type NewsFeed struct {
	Topic    string    `json:"topic"`
	Articles []Article `json:"articles"`
	Source   string    `json:"source"`
}

// IndexQuote is a quote for one of the tracked index proxies
type IndexQuote struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Quote  *Quote `json:"quote"`
}
