package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockdash/services/orders"
)

// OrderController handles simulated trading orders
type OrderController struct {
	orders *orders.Service
}

// NewOrderController creates a new order controller
func NewOrderController(svc *orders.Service) *OrderController {
	return &OrderController{orders: svc}
}

// GetOrders pages through the user's orders
// GET /api/v1/orders?status=pending
func (oc *OrderController) GetOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := pageParams(c)
	list, total, err := oc.orders.List(c.Request.Context(), userID, c.Query("status"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	paginated(c, list, page, limit, total)
}

// PlaceOrder queues a new order for the fulfiller
// POST /api/v1/orders
func (oc *OrderController) PlaceOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req orders.PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.Place(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": order})
}

// GetOrder returns one order
// GET /api/v1/orders/:id
func (oc *OrderController) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := oc.orders.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// CancelOrder cancels a pending order
// POST /api/v1/orders/:id/cancel
func (oc *OrderController) CancelOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := oc.orders.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}
