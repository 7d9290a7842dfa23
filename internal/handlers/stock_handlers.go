package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swiftcart/swiftcart-golang/internal/models"
	"github.com/swiftcart/swiftcart-golang/internal/stock"
)

//
// --- Stock Lock / Unlock / Purchase Handlers ---
//

// itemsFromInput converts wire items into ledger items, rejecting any line
// that doesn't name exactly one unit. This runs before any ledger access.
func itemsFromInput(input []models.StockItemInput) ([]stock.LockItem, error) {
	items := make([]stock.LockItem, 0, len(input))
	for _, in := range input {
		if (in.ProductID == nil) == (in.VariantID == nil) {
			return nil, errors.New("each item must set exactly one of productId or variantId")
		}
		var ref stock.UnitRef
		if in.ProductID != nil {
			ref = stock.ProductRef(*in.ProductID)
		} else {
			ref = stock.VariantRef(*in.VariantID)
		}
		items = append(items, stock.LockItem{Ref: ref, Quantity: in.Quantity})
	}
	return items, nil
}

// refOutput splits a UnitRef back into the wire's productId/variantId pair.
func refOutput(ref stock.UnitRef) (productID, variantID *int64) {
	id := ref.ID
	if ref.Kind == stock.RefVariant {
		return nil, &id
	}
	return &id, nil
}

// respondStockError maps ledger errors onto HTTP responses. The three
// business failures get three distinct statuses and messages — the
// storefront must be able to tell "someone else bought this first" apart
// from "bad request" and "product discontinued".
func (h *Handlers) respondStockError(c *gin.Context, err error) {
	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		// Routine lost race, not a system failure: log quietly.
		h.Log.Debug().Stringer("unit", insufficient.Ref).
			Int("requested", insufficient.Requested).
			Int("available", insufficient.Available).
			Msg("lock race lost")
		c.JSON(http.StatusConflict, gin.H{
			"error": insufficient.Message(),
			"code":  "insufficient_stock",
		})
		return
	}

	var unavailable *stock.UnavailableError
	if errors.As(err, &unavailable) {
		label := unavailable.Name
		if label == "" {
			label = unavailable.Ref.String()
		}
		c.JSON(http.StatusGone, gin.H{
			"error": "\"" + label + "\" is no longer available",
			"code":  "unavailable",
		})
		return
	}

	var notFound *stock.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Product not found: " + notFound.Ref.String(),
			"code":  "not_found",
		})
		return
	}

	if errors.Is(err, stock.ErrReservationNotFound) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Reservation expired or unknown — the hold on this stock has lapsed",
			"code":  "reservation_lapsed",
		})
		return
	}

	// Infrastructure failure: alert-worthy, unlike the cases above.
	h.Log.Error().Err(err).Msg("stock operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Stock operation failed, please try again"})
}

// LockStock is the handler for POST /v1/stock/lock
// It reserves every requested item as a single all-or-nothing batch and
// returns a reservation receipt with one expiry for the whole batch.
func (h *Handlers) LockStock(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input models.StockItemsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := itemsFromInput(input.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Reserve (all-or-nothing) ---
	receipt, err := h.Stock.Lock(c.Request.Context(), items)
	if err != nil {
		stock.CountLockAttempt(stock.IsBusinessError(err))
		h.respondStockError(c, err)
		return
	}
	stock.CountLockAttempt(false)

	// 3. --- Build Response ---
	results := make([]models.LockResultOutput, 0, len(receipt.Results))
	for _, r := range receipt.Results {
		productID, variantID := refOutput(r.Ref)
		results = append(results, models.LockResultOutput{
			ProductID:          productID,
			VariantID:          variantID,
			ReservationID:      r.ReservationID,
			LockedQuantity:     r.LockedQuantity,
			RemainingAvailable: r.RemainingAvailable,
		})
	}

	c.JSON(http.StatusOK, models.LockStockOutput{
		LockResults: results,
		LockExpiry:  receipt.ExpiresAt,
	})
}

// UnlockStock is the handler for POST /v1/stock/unlock
// Releasing is idempotent: items (or reservation ids) with nothing left to
// release are omitted from the result list, never errors.
func (h *Handlers) UnlockStock(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input models.UnlockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(input.ReservationIDs) == 0 && len(input.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide reservationIds or items"})
		return
	}

	// 2. --- Release ---
	var results []stock.UnlockResult
	var err error
	if len(input.ReservationIDs) > 0 {
		results, err = h.Stock.Release(c.Request.Context(), input.ReservationIDs)
	} else {
		var items []stock.LockItem
		items, err = itemsFromInput(input.Items)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		results, err = h.Stock.Unlock(c.Request.Context(), items)
	}
	if err != nil {
		h.respondStockError(c, err)
		return
	}

	// 3. --- Build Response ---
	out := make([]models.UnlockResultOutput, 0, len(results))
	for _, r := range results {
		productID, variantID := refOutput(r.Ref)
		out = append(out, models.UnlockResultOutput{
			ProductID:        productID,
			VariantID:        variantID,
			ReleasedQuantity: r.ReleasedQuantity,
			RemainingLocked:  r.RemainingLocked,
		})
	}

	c.JSON(http.StatusOK, gin.H{"unlockResults": out})
}

// PurchaseStock is the handler for POST /v1/admin/stock/purchase
// It permanently decrements total stock, all-or-nothing, independent of
// any prior lock. Normally reached through the payment webhook; exposed
// directly for back-office order entry.
func (h *Handlers) PurchaseStock(c *gin.Context) {
	var input models.StockItemsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := itemsFromInput(input.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.Stock.Purchase(c.Request.Context(), items)
	if err != nil {
		stock.CountPurchaseAttempt(stock.IsBusinessError(err))
		h.respondStockError(c, err)
		return
	}
	stock.CountPurchaseAttempt(false)

	c.JSON(http.StatusOK, gin.H{"purchaseResults": purchaseOutput(results)})
}

// RestockStock is the handler for POST /v1/admin/stock/restock
// The compensating increment used when an order is cancelled after its
// stock was committed. A sold-out unit becomes available again.
func (h *Handlers) RestockStock(c *gin.Context) {
	var input models.StockItemsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := itemsFromInput(input.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.Stock.Restock(c.Request.Context(), items)
	if err != nil {
		h.respondStockError(c, err)
		return
	}

	out := make([]models.RestockResultOutput, 0, len(results))
	for _, r := range results {
		productID, variantID := refOutput(r.Ref)
		out = append(out, models.RestockResultOutput{
			ProductID:     productID,
			VariantID:     variantID,
			TotalQuantity: r.TotalQuantity,
		})
	}

	c.JSON(http.StatusOK, gin.H{"restockResults": out})
}

func purchaseOutput(results []stock.PurchaseResult) []models.PurchaseResultOutput {
	out := make([]models.PurchaseResultOutput, 0, len(results))
	for _, r := range results {
		productID, variantID := refOutput(r.Ref)
		out = append(out, models.PurchaseResultOutput{
			ProductID:         productID,
			VariantID:         variantID,
			PurchasedQuantity: r.PurchasedQuantity,
			RemainingStock:    r.RemainingStock,
			SoldOut:           r.SoldOut,
		})
	}
	return out
}
