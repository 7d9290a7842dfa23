package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftcart/swiftcart-golang/internal/stock"
)

// newTestAPI wires the stock routes straight onto a router with an
// in-memory ledger, skipping auth: these tests cover handler behavior,
// not middleware.
func newTestAPI(t *testing.T, strategy string) (*gin.Engine, *stock.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := stock.NewMemStore(10 * time.Minute)
	h := &Handlers{
		Stock:    store,
		Sweeper:  stock.NewSweeper(store, time.Minute, zerolog.Nop()),
		Strategy: strategy,
		Log:      zerolog.Nop(),
	}

	router := gin.New()
	router.POST("/v1/stock/lock", h.LockStock)
	router.POST("/v1/stock/unlock", h.UnlockStock)
	router.POST("/v1/admin/stock/purchase", h.PurchaseStock)
	router.POST("/v1/admin/stock/restock", h.RestockStock)
	router.POST("/v1/admin/stock/sweep", h.TriggerSweep)
	router.GET("/v1/admin/stock/sweep/status", h.GetSweepStatus)
	router.POST("/v1/payments/confirm", h.ConfirmPayment)
	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLockStock_Success(t *testing.T) {
	router, store := newTestAPI(t, StrategyPrelock)
	store.SeedUnit(stock.ProductRef(1), "Walnut Desk", 10)

	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	results := body["lockResults"].([]any)
	require.Len(t, results, 1)

	first := results[0].(map[string]any)
	assert.Equal(t, float64(4), first["lockedQuantity"])
	assert.Equal(t, float64(6), first["remainingAvailable"])
	assert.NotEmpty(t, first["reservationId"])
	assert.NotEmpty(t, body["lockExpiry"])
}

func TestLockStock_ValidationRejectedBeforeLedger(t *testing.T) {
	router, _ := newTestAPI(t, StrategyPrelock)

	// Missing items entirely.
	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Both productId and variantId on one line.
	w = doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "variantId": 2, "quantity": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Zero quantity.
	w = doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLockStock_ThreeDistinctFailures(t *testing.T) {
	router, store := newTestAPI(t, StrategyPrelock)
	store.SeedUnit(stock.ProductRef(1), "Low Stock", 1)
	store.SeedUnit(stock.ProductRef(2), "Discontinued", 5)
	store.SetUnavailable(stock.ProductRef(2))

	// Not found.
	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 99, "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["code"])

	// Unavailable.
	w = doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 2, "quantity": 1}},
	})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "unavailable", decodeBody(t, w)["code"])

	// Insufficient — the "lost the race" message names the product.
	w = doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 2}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "insufficient_stock", body["code"])
	assert.Contains(t, body["error"], "Low Stock")
}

func TestUnlockStock_OmitsNoOpItems(t *testing.T) {
	router, store := newTestAPI(t, StrategyPrelock)
	store.SeedUnit(stock.ProductRef(1), "Walnut Desk", 10)

	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	payload := gin.H{"items": []gin.H{{"productId": 1, "quantity": 4}}}

	w = doJSON(t, router, http.MethodPost, "/v1/stock/unlock", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["unlockResults"], 1)

	// Double unlock: still 200, but nothing to report.
	w = doJSON(t, router, http.MethodPost, "/v1/stock/unlock", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["unlockResults"])
}

func TestPurchaseStock_SoldOut(t *testing.T) {
	router, store := newTestAPI(t, StrategyDirect)
	store.SeedUnit(stock.ProductRef(1), "Last One", 1)

	w := doJSON(t, router, http.MethodPost, "/v1/admin/stock/purchase", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decodeBody(t, w)["purchaseResults"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, float64(0), first["remainingStock"])
	assert.Equal(t, true, first["soldOut"])

	// The next buyer is told it sold out, not that the system broke.
	w = doJSON(t, router, http.MethodPost, "/v1/admin/stock/purchase", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 1}},
	})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestConfirmPayment_PrelockCommitsReservations(t *testing.T) {
	router, store := newTestAPI(t, StrategyPrelock)
	store.SeedUnit(stock.ProductRef(1), "Walnut Desk", 10)

	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	lockResults := decodeBody(t, w)["lockResults"].([]any)
	reservationID := lockResults[0].(map[string]any)["reservationId"].(string)

	w = doJSON(t, router, http.MethodPost, "/v1/payments/confirm", gin.H{
		"orderRef":       "ord-1001",
		"reservationIds": []string{reservationID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decodeBody(t, w)["purchaseResults"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, float64(4), first["purchasedQuantity"])
	assert.Equal(t, float64(6), first["remainingStock"])

	// Replayed confirmation fails: the reservation already settled.
	w = doJSON(t, router, http.MethodPost, "/v1/payments/confirm", gin.H{
		"orderRef":       "ord-1001",
		"reservationIds": []string{reservationID},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmPayment_DirectStrategy(t *testing.T) {
	router, store := newTestAPI(t, StrategyDirect)
	store.SeedUnit(stock.ProductRef(1), "Walnut Desk", 5)

	w := doJSON(t, router, http.MethodPost, "/v1/payments/confirm", gin.H{
		"orderRef": "ord-2002",
		"items":    []gin.H{{"productId": 1, "quantity": 3}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/v1/payments/confirm", gin.H{
		"orderRef": "ord-2003",
		"items":    []gin.H{{"productId": 1, "quantity": 3}},
	})
	// 3 > 2 remaining: second payer loses cleanly.
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmPayment_RequiresPayload(t *testing.T) {
	router, _ := newTestAPI(t, StrategyPrelock)

	w := doJSON(t, router, http.MethodPost, "/v1/payments/confirm", gin.H{
		"orderRef": "ord-3004",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerSweep_ReportsCounts(t *testing.T) {
	router, store := newTestAPI(t, StrategyPrelock)
	store.SeedUnit(stock.ProductRef(1), "Walnut Desk", 5)

	base := time.Now().Add(-time.Hour)
	store.Now = func() time.Time { return base }
	w := doJSON(t, router, http.MethodPost, "/v1/stock/lock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 2}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	store.Now = time.Now

	w = doJSON(t, router, http.MethodPost, "/v1/admin/stock/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["productsChecked"])
	assert.Equal(t, float64(1), body["productsUnlocked"])
	assert.Equal(t, float64(2), body["totalQuantityReleased"])
	assert.NotEmpty(t, body["duration"])

	w = doJSON(t, router, http.MethodGet, "/v1/admin/stock/sweep/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody(t, w)
	assert.Equal(t, float64(1), status["totalRuns"])
	assert.NotNil(t, status["lastRun"])
}

func TestRestockStock(t *testing.T) {
	router, store := newTestAPI(t, StrategyDirect)
	store.SeedUnit(stock.ProductRef(1), "Last One", 1)

	w := doJSON(t, router, http.MethodPost, "/v1/admin/stock/purchase", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/admin/stock/restock", gin.H{
		"items": []gin.H{{"productId": 1, "quantity": 5}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	results := decodeBody(t, w)["restockResults"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, float64(5), first["totalQuantity"])
}
