package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit guards an endpoint with a shared token bucket. Used on the
// manual sweep trigger so an over-eager admin (or a script gone wrong)
// can't hammer the ledger with back-to-back sweep passes.
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(r, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, try again shortly"})
			c.Abort()
			return
		}
		c.Next()
	}
}
