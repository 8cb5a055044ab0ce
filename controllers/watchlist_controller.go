package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockdash/services/watchlist"
)

// WatchlistController handles the user's watchlists
type WatchlistController struct {
	watchlists *watchlist.Service
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(svc *watchlist.Service) *WatchlistController {
	return &WatchlistController{watchlists: svc}
}

type watchlistNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// GetWatchlists lists watchlists with their items
// GET /api/v1/watchlists
func (wc *WatchlistController) GetWatchlists(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	lists, err := wc.watchlists.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lists})
}

// CreateWatchlist creates an empty watchlist
// POST /api/v1/watchlists
func (wc *WatchlistController) CreateWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req watchlistNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	list, err := wc.watchlists.Create(c.Request.Context(), userID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": list})
}

// RenameWatchlist renames a watchlist
// PUT /api/v1/watchlists/:id
func (wc *WatchlistController) RenameWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req watchlistNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	list, err := wc.watchlists.Rename(c.Request.Context(), userID, id, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// DeleteWatchlist deletes a watchlist and its items
// DELETE /api/v1/watchlists/:id
func (wc *WatchlistController) DeleteWatchlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := wc.watchlists.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Watchlist deleted"})
}

// AddItem adds a symbol to a watchlist
// POST /api/v1/watchlists/:id/items
func (wc *WatchlistController) AddItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := wc.watchlists.AddItem(c.Request.Context(), userID, id, req.Symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// RemoveItem removes a symbol from a watchlist
// DELETE /api/v1/watchlists/:id/items/:symbol
func (wc *WatchlistController) RemoveItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := wc.watchlists.RemoveItem(c.Request.Context(), userID, id, c.Param("symbol")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Symbol removed"})
}

// GetQuotes prices every symbol on a watchlist
// GET /api/v1/watchlists/:id/quotes
func (wc *WatchlistController) GetQuotes(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	quotes, err := wc.watchlists.Quotes(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quotes})
}
