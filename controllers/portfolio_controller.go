package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stockdash/services/portfolio"
)

const defaultHistoryDays = 30

// PortfolioController handles holdings, valuation and the ledger
type PortfolioController struct {
	portfolio *portfolio.Service
}

// NewPortfolioController creates a new portfolio controller
func NewPortfolioController(svc *portfolio.Service) *PortfolioController {
	return &PortfolioController{portfolio: svc}
}

// GetHoldings lists the user's holdings
// GET /api/v1/portfolio/holdings
func (pc *PortfolioController) GetHoldings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	holdings, err := pc.portfolio.ListHoldings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": holdings})
}

// AddHolding buys into a position, merging with an existing one
// POST /api/v1/portfolio/holdings
func (pc *PortfolioController) AddHolding(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Symbol      string          `json:"symbol" binding:"required"`
		Quantity    int64           `json:"quantity" binding:"required"`
		AverageCost decimal.Decimal `json:"average_cost"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	holding, err := pc.portfolio.AddHolding(c.Request.Context(), userID, req.Symbol, req.Quantity, req.AverageCost)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": holding})
}

// UpdateHolding edits quantity or average cost
// PUT /api/v1/portfolio/holdings/:id
func (pc *PortfolioController) UpdateHolding(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Quantity    *int64           `json:"quantity"`
		AverageCost *decimal.Decimal `json:"average_cost"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	holding, err := pc.portfolio.UpdateHolding(c.Request.Context(), userID, id, portfolio.HoldingUpdate{
		Quantity:    req.Quantity,
		AverageCost: req.AverageCost,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if holding.Quantity == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "Holding closed", "data": holding})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": holding})
}

// DeleteHolding sells out of a position
// DELETE /api/v1/portfolio/holdings/:id
func (pc *PortfolioController) DeleteHolding(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := pc.portfolio.DeleteHolding(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Holding deleted"})
}

// GetSummary values the portfolio at current quotes
// GET /api/v1/portfolio/summary
func (pc *PortfolioController) GetSummary(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	summary, err := pc.portfolio.Summary(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// GetHistory returns daily snapshots, oldest first
// GET /api/v1/portfolio/history?days=30
func (pc *PortfolioController) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultHistoryDays)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "days must be a number"})
		return
	}

	history, err := pc.portfolio.History(c.Request.Context(), userID, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

// GetTransactions pages through the ledger, newest first
// GET /api/v1/portfolio/transactions
func (pc *PortfolioController) GetTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := pageParams(c)
	txs, total, err := pc.portfolio.Transactions(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	paginated(c, txs, page, limit, total)
}
