package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/middleware"
	"stockdash/models"
	"stockdash/services"
	"stockdash/services/marketdata"
	"stockdash/services/orders"
	"stockdash/services/realtime"
)

// AdminController exposes operational endpoints to admins
type AdminController struct {
	db        *gorm.DB
	orders    *orders.Service
	fulfiller *orders.Fulfiller
	market    *marketdata.Service
	hub       *realtime.Hub
	relay     *realtime.Relay
}

// NewAdminController creates a new admin controller
func NewAdminController(db *gorm.DB, orderSvc *orders.Service, fulfiller *orders.Fulfiller, market *marketdata.Service, hub *realtime.Hub, relay *realtime.Relay) *AdminController {
	return &AdminController{
		db:        db,
		orders:    orderSvc,
		fulfiller: fulfiller,
		market:    market,
		hub:       hub,
		relay:     relay,
	}
}

// ProcessOrders runs one fulfiller pass
// POST /api/v1/admin/orders/process
func (ac *AdminController) ProcessOrders(c *gin.Context) {
	result, err := ac.fulfiller.ProcessPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().
		Str("admin", c.GetString(middleware.ContextUserEmail)).
		Int("filled", result.Filled).
		Int("rejected", result.Rejected).
		Msg("Manual order processing")
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetOrderStats counts orders per status
// GET /api/v1/admin/orders/stats
func (ac *AdminController) GetOrderStats(c *gin.Context) {
	counts, err := ac.orders.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

// RefreshIndices re-quotes the index proxies and stores them
// POST /api/v1/admin/indices/refresh
func (ac *AdminController) RefreshIndices(c *gin.Context) {
	indices, err := ac.market.RefreshIndices(c.Request.Context(), ac.db)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": indices})
}

// GetRealtimeStatus reports the WebSocket hub state
// GET /api/v1/admin/realtime/status
func (ac *AdminController) GetRealtimeStatus(c *gin.Context) {
	status := gin.H{
		"relay_configured": ac.relay != nil && ac.relay.Configured(),
		"clients":          0,
	}
	if ac.hub != nil {
		status["clients"] = ac.hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

var userSortColumns = map[string]bool{
	"created_at":    true,
	"email":         true,
	"last_login_at": true,
}

// ListUsers pages through accounts with optional search
// GET /api/v1/admin/users?search=&sort_by=created_at&sort_order=desc
func (ac *AdminController) ListUsers(c *gin.Context) {
	page, limit := pageParams(c)

	sortBy := c.DefaultQuery("sort_by", "created_at")
	if !userSortColumns[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := "DESC"
	if strings.EqualFold(c.Query("sort_order"), "asc") {
		sortOrder = "ASC"
	}

	query := ac.db.WithContext(c.Request.Context()).Model(&models.User{})
	if search := strings.ToLower(strings.TrimSpace(c.Query("search"))); search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}

	offset, size := services.Pagination(page, limit)
	var users []models.User
	if err := query.Order(sortBy + " " + sortOrder).Offset(offset).Limit(size).Find(&users).Error; err != nil {
		respondError(c, err)
		return
	}
	paginated(c, users, page, limit, total)
}

// UpdateUser changes an account's role or plan
// PATCH /api/v1/admin/users/:id
func (ac *AdminController) UpdateUser(c *gin.Context) {
	var req struct {
		Role *string `json:"role"`
		Plan *string `json:"plan"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Role != nil {
		if *req.Role != models.RoleUser && *req.Role != models.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "role must be user or admin"})
			return
		}
		updates["role"] = *req.Role
	}
	if req.Plan != nil {
		if *req.Plan != models.PlanFree && *req.Plan != models.PlanPro {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "plan must be free or pro"})
			return
		}
		updates["plan"] = *req.Plan
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "No fields to update"})
		return
	}

	res := ac.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", c.Param("id")).Updates(updates)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
		return
	}

	var user models.User
	if err := ac.db.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).First(&user).Error; err != nil {
		respondError(c, err)
		return
	}

	log.Info().
		Str("admin", c.GetString(middleware.ContextUserEmail)).
		Str("user_id", user.ID).
		Interface("changes", updates).
		Msg("User updated by admin")
	c.JSON(http.StatusOK, gin.H{"data": user})
}
