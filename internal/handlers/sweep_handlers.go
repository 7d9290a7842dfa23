package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

//
// --- Admin: Expiry Sweep Handlers ---
//

// TriggerSweep is the handler for POST /v1/admin/stock/sweep
// Runs one sweep pass on demand with exactly the same semantics as the
// background timer. Rate-limited at the route level.
func (h *Handlers) TriggerSweep(c *gin.Context) {
	report, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("manual sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productsChecked":       report.Stats.ProductsChecked,
		"variantsChecked":       report.Stats.VariantsChecked,
		"productsUnlocked":      report.Stats.ProductsUnlocked,
		"variantsUnlocked":      report.Stats.VariantsUnlocked,
		"totalQuantityReleased": report.Stats.TotalQuantityReleased,
		"errors":                report.Stats.Errors,
		"duration":              report.Duration,
	})
}

// GetSweepStatus is the handler for GET /v1/admin/stock/sweep/status
func (h *Handlers) GetSweepStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Sweeper.Status())
}
