package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stockdash/services"
	"stockdash/services/marketdata"
	"stockdash/services/realtime"
)

const (
	defaultChartDays  = 30
	maxQuoteSymbols   = 25
	maxRealtimeSymbol = 50
)

// MarketController proxies market data providers
type MarketController struct {
	db     *gorm.DB
	market *marketdata.Service
	relay  realtime.Collector
}

// NewMarketController creates a new market controller
func NewMarketController(db *gorm.DB, market *marketdata.Service, relay realtime.Collector) *MarketController {
	return &MarketController{db: db, market: market, relay: relay}
}

// GetQuote returns the latest quote
// GET /api/v1/market/quote/:symbol
func (mc *MarketController) GetQuote(c *gin.Context) {
	quote, err := mc.market.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// GetQuotes returns quotes for a comma separated list
// GET /api/v1/market/quotes?symbols=AAPL,MSFT
func (mc *MarketController) GetQuotes(c *gin.Context) {
	symbols, err := marketdata.ParseSymbols(c.Query("symbols"))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(symbols) > maxQuoteSymbols {
		respondError(c, fmt.Errorf("at most %d symbols: %w", maxQuoteSymbols, services.ErrInvalidInput))
		return
	}

	quotes, err := mc.market.Quotes(c.Request.Context(), symbols)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quotes})
}

// GetHistory returns daily bars
// GET /api/v1/market/history/:symbol?days=30
func (mc *MarketController) GetHistory(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultChartDays)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "days must be a number"})
		return
	}

	history, err := mc.market.History(c.Request.Context(), c.Param("symbol"), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

// Search looks up tickers by symbol or name
// GET /api/v1/market/search?q=apple
func (mc *MarketController) Search(c *gin.Context) {
	results, err := mc.market.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

// GetCompany returns the company profile
// GET /api/v1/market/company/:symbol
func (mc *MarketController) GetCompany(c *gin.Context) {
	company, err := mc.market.Company(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": company})
}

// GetNews returns headlines, for one symbol or the general market
// GET /api/v1/market/news?symbol=AAPL&limit=20
func (mc *MarketController) GetNews(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(marketdata.DefaultNewsLimit)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "limit must be a number"})
		return
	}

	feed, err := mc.market.News(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": feed})
}

// GetIndices returns the stored index snapshot, or live quotes before the
// first refresh has run.
// GET /api/v1/market/indices
func (mc *MarketController) GetIndices(c *gin.Context) {
	if mc.db != nil {
		stored, err := marketdata.StoredIndices(c.Request.Context(), mc.db)
		if err == nil && len(stored) > 0 {
			c.JSON(http.StatusOK, gin.H{"data": stored, "source": "stored"})
			return
		}
	}

	live, err := mc.market.Indices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": live, "source": "live"})
}

// GetRealtime collects trades for one relay window
// GET /api/v1/market/realtime?symbols=AAPL,MSFT
func (mc *MarketController) GetRealtime(c *gin.Context) {
	symbols, err := marketdata.ParseSymbols(c.Query("symbols"))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(symbols) > maxRealtimeSymbol {
		respondError(c, fmt.Errorf("at most %d symbols: %w", maxRealtimeSymbol, services.ErrInvalidInput))
		return
	}

	trades, err := mc.relay.Collect(c.Request.Context(), symbols)
	if err != nil {
		respondError(c, err)
		return
	}
	if trades == nil {
		trades = []realtime.Trade{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   trades,
		"latest": realtime.LatestBySymbol(trades),
		"count":  len(trades),
	})
}
