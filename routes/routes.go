package routes

import (
	"github.com/gin-gonic/gin"

	"stockdash/controllers"
	"stockdash/middleware"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps *Dependencies) {
	authController := controllers.NewAuthController(deps.Auth, deps.LoginLimiter)
	userController := controllers.NewUserController(deps.DB)
	subscriptionController := controllers.NewSubscriptionController(deps.DB, deps.Billing)
	portfolioController := controllers.NewPortfolioController(deps.Portfolio)
	watchlistController := controllers.NewWatchlistController(deps.Watchlists)
	orderController := controllers.NewOrderController(deps.Orders)
	marketController := controllers.NewMarketController(deps.DB, deps.Market, deps.Relay)
	adminController := controllers.NewAdminController(deps.DB, deps.Orders, deps.Fulfiller, deps.Market, deps.Hub, deps.Relay)

	requireAuth := middleware.JWTAuth(deps.Secret)

	// Stripe calls this directly; the signature is the authentication.
	router.POST("/billing/webhook", subscriptionController.Webhook)

	// Browser price stream
	router.GET("/ws", gin.WrapF(deps.Hub.HandleWebSocket))

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit(deps.APILimiter))
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/signup", authController.SignUp)
			authRoutes.POST("/signin", middleware.LoginRateLimit(deps.LoginLimiter), authController.SignIn)
			authRoutes.POST("/refresh", authController.Refresh)
			authRoutes.POST("/signout", requireAuth, authController.SignOut)
		}

		account := api.Group("/account", requireAuth)
		{
			account.GET("/profile", userController.GetProfile)
			account.PUT("/profile", userController.UpdateProfile)
			account.GET("/subscription", subscriptionController.GetSubscription)
			account.POST("/checkout", subscriptionController.CreateCheckout)
		}

		portfolio := api.Group("/portfolio", requireAuth)
		{
			portfolio.GET("/holdings", portfolioController.GetHoldings)
			portfolio.POST("/holdings", portfolioController.AddHolding)
			portfolio.PUT("/holdings/:id", portfolioController.UpdateHolding)
			portfolio.DELETE("/holdings/:id", portfolioController.DeleteHolding)
			portfolio.GET("/summary", portfolioController.GetSummary)
			portfolio.GET("/history", portfolioController.GetHistory)
			portfolio.GET("/transactions", portfolioController.GetTransactions)
		}

		watchlists := api.Group("/watchlists", requireAuth)
		{
			watchlists.GET("", watchlistController.GetWatchlists)
			watchlists.POST("", watchlistController.CreateWatchlist)
			watchlists.PUT("/:id", watchlistController.RenameWatchlist)
			watchlists.DELETE("/:id", watchlistController.DeleteWatchlist)
			watchlists.POST("/:id/items", watchlistController.AddItem)
			watchlists.DELETE("/:id/items/:symbol", watchlistController.RemoveItem)
			watchlists.GET("/:id/quotes", watchlistController.GetQuotes)
		}

		orders := api.Group("/orders", requireAuth)
		{
			orders.GET("", orderController.GetOrders)
			orders.POST("", orderController.PlaceOrder)
			orders.GET("/:id", orderController.GetOrder)
			orders.POST("/:id/cancel", orderController.CancelOrder)
		}

		market := api.Group("/market", middleware.OptionalJWTAuth(deps.Secret))
		{
			market.GET("/quote/:symbol", marketController.GetQuote)
			market.GET("/quotes", marketController.GetQuotes)
			market.GET("/history/:symbol", marketController.GetHistory)
			market.GET("/search", marketController.Search)
			market.GET("/company/:symbol", marketController.GetCompany)
			market.GET("/news", marketController.GetNews)
			market.GET("/indices", marketController.GetIndices)
			market.GET("/realtime", marketController.GetRealtime)
		}

		admin := api.Group("/admin", requireAuth, middleware.AdminRole())
		{
			admin.POST("/orders/process", adminController.ProcessOrders)
			admin.GET("/orders/stats", adminController.GetOrderStats)
			admin.POST("/indices/refresh", adminController.RefreshIndices)
			admin.GET("/realtime/status", adminController.GetRealtimeStatus)
			admin.GET("/users", adminController.ListUsers)
			admin.PATCH("/users/:id", adminController.UpdateUser)
		}
	}
}
