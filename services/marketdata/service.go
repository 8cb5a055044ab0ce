package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stockdash/config"
	"stockdash/services"
)

const (
	defaultQuoteTTL   = 60 * time.Second
	defaultHistoryTTL = 24 * time.Hour
	defaultNewsTTL    = 10 * time.Minute
	companyTTL        = 24 * time.Hour

	MaxHistoryDays   = 1825
	DefaultNewsLimit = 20
	MaxNewsLimit     = 50

	newsLookback = 7 * 24 * time.Hour
	generalTopic = "business"
)

// IndexProxies are the ETFs shown as market indices
var IndexProxies = []struct {
	Symbol string
	Name   string
}{
	{"SPY", "S&P 500"},
	{"DIA", "Dow Jones Industrial Average"},
	{"QQQ", "Nasdaq 100"},
	{"IWM", "Russell 2000"},
}

// Options configures a Service. Nil clients are skipped in the fallback chains.
type Options struct {
	AlphaVantage *AlphaVantageClient
	Polygon      *PolygonClient
	Finnhub      *FinnhubClient
	NewsAPI      *NewsAPIClient
	Cache        Cache
	Archive      NewsArchive
	QuoteTTL     time.Duration
	HistoryTTL   time.Duration
	Now          func() time.Time
}

// Service answers market data requests, falling back across providers and
// finally to deterministic mock data.
type Service struct {
	av         *AlphaVantageClient
	polygon    *PolygonClient
	finnhub    *FinnhubClient
	newsAPI    *NewsAPIClient
	cache      Cache
	archive    NewsArchive
	quoteTTL   time.Duration
	historyTTL time.Duration
	now        func() time.Time
	mock       mockProvider
}

func NewService(opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = defaultQuoteTTL
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = defaultHistoryTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		av:         opts.AlphaVantage,
		polygon:    opts.Polygon,
		finnhub:    opts.Finnhub,
		newsAPI:    opts.NewsAPI,
		cache:      opts.Cache,
		archive:    opts.Archive,
		quoteTTL:   opts.QuoteTTL,
		historyTTL: opts.HistoryTTL,
		now:        opts.Now,
		mock:       mockProvider{now: opts.Now},
	}
}

// NewServiceFromConfig builds clients for every provider that has an API key
func NewServiceFromConfig(cfg config.ProvidersConfig, cache Cache, archive NewsArchive) *Service {
	opts := Options{Cache: cache, Archive: archive}
	if cfg.AlphaVantageKey != "" {
		opts.AlphaVantage = NewAlphaVantageClient(cfg.AlphaVantageURL, cfg.AlphaVantageKey, cfg.RatePerSecond)
	}
	if cfg.PolygonKey != "" {
		opts.Polygon = NewPolygonClient(cfg.PolygonURL, cfg.PolygonKey, cfg.RatePerSecond)
	}
	if cfg.FinnhubKey != "" {
		opts.Finnhub = NewFinnhubClient(cfg.FinnhubURL, cfg.FinnhubKey, cfg.RatePerSecond)
	}
	if cfg.NewsAPIKey != "" {
		opts.NewsAPI = NewNewsAPIClient(cfg.NewsAPIURL, cfg.NewsAPIKey, cfg.RatePerSecond)
	}

	log.Info().
		Bool("alphavantage", opts.AlphaVantage != nil).
		Bool("polygon", opts.Polygon != nil).
		Bool("finnhub", opts.Finnhub != nil).
		Bool("newsapi", opts.NewsAPI != nil).
		Bool("archive", archive != nil).
		Msg("Market data providers configured")

	return NewService(opts)
}

func (s *Service) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
	}
	return false
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func providerFailed(provider, symbol string, err error) {
	log.Warn().Err(err).Str("provider", provider).Str("symbol", symbol).Msg("Provider failed, trying next")
}

// Quote returns the latest quote for symbol
func (s *Service) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	key := "quote:" + symbol
	var cached Quote
	if s.cacheGet(ctx, key, &cached) {
		cached.Source = SourceCache
		return &cached, nil
	}

	var quote *Quote
	if s.finnhub != nil {
		if quote, err = s.finnhub.Quote(ctx, symbol); err != nil {
			providerFailed(SourceFinnhub, symbol, err)
		}
	}
	if quote == nil && s.av != nil {
		if quote, err = s.av.Quote(ctx, symbol); err != nil {
			providerFailed(SourceAlphaVantage, symbol, err)
		}
	}
	if quote == nil && s.polygon != nil {
		if quote, err = s.polygon.PreviousClose(ctx, symbol); err != nil {
			providerFailed(SourcePolygon, symbol, err)
		}
	}

	if quote == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.mock.Quote(symbol), nil
	}

	s.cacheSet(ctx, key, quote, s.quoteTTL)
	return quote, nil
}

// Quotes fetches several symbols in order
func (s *Service) Quotes(ctx context.Context, symbols []string) ([]*Quote, error) {
	quotes := make([]*Quote, 0, len(symbols))
	for _, sym := range symbols {
		q, err := s.Quote(ctx, sym)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func trimBars(bars []Bar, days int) []Bar {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars
}

// History returns up to days daily bars, oldest first
func (s *Service) History(ctx context.Context, symbol string, days int) (*History, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days < 1 || days > MaxHistoryDays {
		return nil, fmt.Errorf("days must be between 1 and %d: %w", MaxHistoryDays, services.ErrInvalidInput)
	}

	key := fmt.Sprintf("history:%s:%d", symbol, days)
	var cached History
	if s.cacheGet(ctx, key, &cached) {
		cached.Source = SourceCache
		return &cached, nil
	}

	var history *History
	if s.av != nil {
		outputSize := "compact"
		if days > 100 {
			outputSize = "full"
		}
		bars, err := s.av.DailySeries(ctx, symbol, outputSize)
		if err != nil {
			providerFailed(SourceAlphaVantage, symbol, err)
		} else {
			history = &History{Symbol: symbol, Bars: trimBars(bars, days), Source: SourceAlphaVantage}
		}
	}
	if history == nil && s.polygon != nil {
		to := s.now().UTC()
		// calendar span that covers the requested trading days
		from := to.AddDate(0, 0, -(days*7/5 + 7))
		bars, err := s.polygon.Aggregates(ctx, symbol, from, to)
		if err != nil {
			providerFailed(SourcePolygon, symbol, err)
		} else {
			history = &History{Symbol: symbol, Bars: trimBars(bars, days), Source: SourcePolygon}
		}
	}

	if history == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &History{Symbol: symbol, Bars: s.mock.History(symbol, days), Source: SourceMock}, nil
	}

	s.cacheSet(ctx, key, history, s.historyTTL)
	return history, nil
}

// Search looks up symbols by ticker prefix or company name
func (s *Service) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required: %w", services.ErrInvalidInput)
	}

	if s.av != nil {
		results, err := s.av.Search(ctx, query)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err != nil {
			providerFailed(SourceAlphaVantage, query, err)
		}
	}

	results := s.mock.Search(query)
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// Company returns profile information for symbol
func (s *Service) Company(ctx context.Context, symbol string) (*Company, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	key := "company:" + symbol
	var cached Company
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	var company *Company
	if s.finnhub != nil {
		if company, err = s.finnhub.Profile(ctx, symbol); err != nil {
			providerFailed(SourceFinnhub, symbol, err)
		}
	}
	if company == nil && s.av != nil {
		if company, err = s.av.Overview(ctx, symbol); err != nil {
			providerFailed(SourceAlphaVantage, symbol, err)
		}
	}
	if company == nil {
		return s.mock.Company(symbol), nil
	}

	s.cacheSet(ctx, key, company, companyTTL)
	return company, nil
}

func newestFirst(articles []Article, limit int) []Article {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles
}

// News returns articles about symbol, or general market headlines when
// symbol is empty.
func (s *Service) News(ctx context.Context, symbol string, limit int) (*NewsFeed, error) {
	topic := generalTopic
	if strings.TrimSpace(symbol) != "" {
		var err error
		if topic, err = NormalizeSymbol(symbol); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = DefaultNewsLimit
	}
	if limit > MaxNewsLimit {
		limit = MaxNewsLimit
	}

	key := fmt.Sprintf("news:%s:%d", topic, limit)
	var cached NewsFeed
	if s.cacheGet(ctx, key, &cached) {
		cached.Source = SourceCache
		return &cached, nil
	}

	var (
		articles []Article
		source   string
		err      error
	)
	if topic != generalTopic && s.finnhub != nil {
		now := s.now().UTC()
		if articles, err = s.finnhub.CompanyNews(ctx, topic, now.Add(-newsLookback), now); err != nil {
			providerFailed(SourceFinnhub, topic, err)
		} else {
			source = SourceFinnhub
		}
	}
	if topic == generalTopic && s.newsAPI != nil {
		if articles, err = s.newsAPI.TopHeadlines(ctx, generalTopic, limit); err != nil {
			providerFailed(SourceNewsAPI, topic, err)
		} else {
			source = SourceNewsAPI
		}
	}

	if source != "" {
		articles = newestFirst(articles, limit)
		if s.archive != nil {
			if err := s.archive.Save(ctx, articles); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("Failed to archive news")
			}
		}
		feed := &NewsFeed{Topic: topic, Articles: articles, Source: source}
		s.cacheSet(ctx, key, feed, defaultNewsTTL)
		return feed, nil
	}

	if s.archive != nil {
		archived, err := s.archive.Latest(ctx, topic, limit)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("News archive read failed")
		} else if len(archived) > 0 {
			return &NewsFeed{Topic: topic, Articles: archived, Source: SourceArchive}, nil
		}
	}

	return &NewsFeed{Topic: topic, Articles: s.mock.News(topic, limit), Source: SourceMock}, nil
}

// Indices quotes every index proxy
func (s *Service) Indices(ctx context.Context) ([]IndexQuote, error) {
	indices := make([]IndexQuote, 0, len(IndexProxies))
	for _, idx := range IndexProxies {
		q, err := s.Quote(ctx, idx.Symbol)
		if err != nil {
			return nil, err
		}
		indices = append(indices, IndexQuote{Symbol: idx.Symbol, Name: idx.Name, Quote: q})
	}
	return indices, nil
}

// PurgeNews removes archived articles older than maxAge. It is a no-op
// without an archive.
func (s *Service) PurgeNews(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.archive == nil {
		return 0, nil
	}
	return s.archive.PurgeOlderThan(ctx, s.now().Add(-maxAge))
}

// PurgeCache drops expired entries when the cache is in-process
func (s *Service) PurgeCache() int {
	if mc, ok := s.cache.(*MemoryCache); ok {
		return mc.Purge()
	}
	return 0
}
