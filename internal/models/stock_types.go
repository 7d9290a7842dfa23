package models

import "time"

// StockItemInput is one line of a lock/unlock/purchase request. Exactly
// one of ProductID or VariantID must be set — the handler rejects payloads
// that set both or neither before any ledger access happens.
type StockItemInput struct {
	ProductID *int64 `json:"productId,omitempty"`
	VariantID *int64 `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// StockItemsInput is the shared request body for lock, unlock, purchase
// and restock.
type StockItemsInput struct {
	Items []StockItemInput `json:"items" binding:"required,min=1,dive"`
}

// UnlockInput additionally accepts reservation ids; when present they take
// precedence over the item list because an id-based release is exact.
type UnlockInput struct {
	ReservationIDs []string         `json:"reservationIds,omitempty"`
	Items          []StockItemInput `json:"items,omitempty" binding:"dive"`
}

// LockResultOutput is one reserved line item in a lock response.
type LockResultOutput struct {
	ProductID          *int64 `json:"productId,omitempty"`
	VariantID          *int64 `json:"variantId,omitempty"`
	ReservationID      string `json:"reservationId"`
	LockedQuantity     int    `json:"lockedQuantity"`
	RemainingAvailable int    `json:"remainingAvailable"`
}

// UnlockResultOutput is one released line item. Items with no effect are
// omitted from the response entirely.
type UnlockResultOutput struct {
	ProductID        *int64 `json:"productId,omitempty"`
	VariantID        *int64 `json:"variantId,omitempty"`
	ReleasedQuantity int    `json:"releasedQuantity"`
	RemainingLocked  int    `json:"remainingLocked"`
}

// PurchaseResultOutput is one committed line item.
type PurchaseResultOutput struct {
	ProductID         *int64 `json:"productId,omitempty"`
	VariantID         *int64 `json:"variantId,omitempty"`
	PurchasedQuantity int    `json:"purchasedQuantity"`
	RemainingStock    int    `json:"remainingStock"`
	SoldOut           bool   `json:"soldOut"`
}

// RestockResultOutput is one compensating increment.
type RestockResultOutput struct {
	ProductID     *int64 `json:"productId,omitempty"`
	VariantID     *int64 `json:"variantId,omitempty"`
	TotalQuantity int    `json:"totalQuantity"`
}

// PaymentConfirmationInput is the event the payment gateway callback
// delivers once a charge settles. In the pre-lock checkout strategy the
// reservation ids from the original lock receipt are carried through the
// gateway round trip; in the direct strategy only the items are sent.
type PaymentConfirmationInput struct {
	OrderRef       string           `json:"orderRef" binding:"required"`
	ReservationIDs []string         `json:"reservationIds,omitempty"`
	Items          []StockItemInput `json:"items,omitempty" binding:"dive"`
}

// LockStockOutput is the full lock response.
type LockStockOutput struct {
	LockResults []LockResultOutput `json:"lockResults"`
	LockExpiry  time.Time          `json:"lockExpiry"`
}
