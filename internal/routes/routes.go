package routes

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swiftcart/swiftcart-golang/internal/handlers"
	"github.com/swiftcart/swiftcart-golang/internal/middleware"
	"golang.org/x/time/rate"
)

// CORSMiddleware allows the storefront origin to call the API.
func CORSMiddleware() gin.HandlerFunc {
	origin := os.Getenv("CORS_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		// Preflight OPTIONS requests get an empty 204.
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	router.Use(CORSMiddleware())

	// Prometheus scrape endpoint.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Auth Routes (Public) ---
		v1.POST("/register", h.Register)
		v1.POST("/login", h.Login)

		// --- Public Catalog Routes ---
		v1.GET("/products", h.GetAllProducts)
		v1.GET("/products/:id", h.GetProduct)

		// --- Payment Gateway Callback ---
		// Reached by the payment provider, not a browser session; input
		// validation is the gate here, signature checks live upstream.
		v1.POST("/payments/confirm", h.ConfirmPayment)

		// --- Protected Routes (Login Required) ---
		authed := v1.Group("/")
		authed.Use(middleware.AuthMiddleware())
		{
			// Checkout soft holds. Lock is all-or-nothing per cart;
			// unlock is idempotent per item.
			authed.POST("/stock/lock", h.LockStock)
			authed.POST("/stock/unlock", h.UnlockStock)
		}

		// --- Admin-Only Routes ---
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware())
		admin.Use(middleware.AdminMiddleware(h.DB))
		{
			admin.POST("/products", h.CreateProduct)

			admin.POST("/stock/purchase", h.PurchaseStock)
			admin.POST("/stock/restock", h.RestockStock)

			// Manual sweep is rate-limited: one trigger per 10s, small burst.
			admin.POST("/stock/sweep", middleware.RateLimit(rate.Limit(0.1), 2), h.TriggerSweep)
			admin.GET("/stock/sweep/status", h.GetSweepStatus)
		}
	}

	return router
}
