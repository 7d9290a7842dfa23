package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swiftcart/swiftcart-golang/internal/models"
	"github.com/swiftcart/swiftcart-golang/internal/stock"
)

//
// --- Payment Confirmation Handler ---
//

// ConfirmPayment is the handler for POST /v1/payments/confirm
// The payment gateway calls this once a charge settles. Which ledger
// operation runs depends on the deployment's checkout strategy:
//
//   - prelock: the cart's reservations (carried through the gateway round
//     trip as reservationIds) are converted into committed purchases.
//   - direct: no prior lock exists; the atomic conditional decrement here
//     IS the race resolution between concurrent buyers.
//
// Either way the whole cart commits or none of it does.
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input models.PaymentConfirmationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var results []stock.PurchaseResult
	var err error

	// 2. --- Commit Stock ---
	switch {
	case h.Strategy == StrategyPrelock && len(input.ReservationIDs) > 0:
		results, err = h.Stock.Commit(c.Request.Context(), input.ReservationIDs)

	case len(input.Items) > 0:
		var items []stock.LockItem
		items, err = itemsFromInput(input.Items)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		results, err = h.Stock.Purchase(c.Request.Context(), items)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation carries neither reservationIds nor items"})
		return
	}

	if err != nil {
		stock.CountPurchaseAttempt(stock.IsBusinessError(err))
		// A paid order that cannot commit stock needs a human: the money
		// has moved but the goods haven't. Log loudly either way, then let
		// the normal error mapping answer the gateway.
		h.Log.Warn().Err(err).Str("orderRef", input.OrderRef).
			Msg("payment confirmed but stock commit failed")
		h.respondStockError(c, err)
		return
	}
	stock.CountPurchaseAttempt(false)

	h.Log.Info().Str("orderRef", input.OrderRef).Int("items", len(results)).
		Msg("payment confirmed, stock committed")

	// 3. --- Send Success Response ---
	c.JSON(http.StatusOK, gin.H{
		"orderRef":        input.OrderRef,
		"purchaseResults": purchaseOutput(results),
	})
}
