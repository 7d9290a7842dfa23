package stock

import (
	"context"
	"time"
)

// Reservation lifecycle states. A reservation is created 'active' by Lock
// and leaves that state exactly once: released (explicit unlock), expired
// (sweeper) or confirmed (converted into a purchase at payment time).
const (
	ReservationActive    = "active"
	ReservationReleased  = "released"
	ReservationExpired   = "expired"
	ReservationConfirmed = "confirmed"
)

// LockItem is one line of a lock/unlock/purchase batch.
type LockItem struct {
	Ref      UnitRef
	Quantity int
}

// LockResult reports one successfully reserved line item.
type LockResult struct {
	Ref                UnitRef
	ReservationID      string
	LockedQuantity     int
	RemainingAvailable int
}

// LockReceipt is the outcome of a whole lock batch. ExpiresAt applies to
// every item in the batch; the sweeper releases whatever is still active
// past that deadline.
type LockReceipt struct {
	Results   []LockResult
	ExpiresAt time.Time
}

// UnlockResult reports one released line item. Items whose guard failed
// (already released, never locked) are simply omitted from the slice.
type UnlockResult struct {
	Ref              UnitRef
	ReleasedQuantity int
	RemainingLocked  int
}

// PurchaseResult reports one permanently committed line item.
type PurchaseResult struct {
	Ref               UnitRef
	PurchasedQuantity int
	RemainingStock    int
	SoldOut           bool
}

// RestockResult reports one compensating increment (order cancellation).
type RestockResult struct {
	Ref           UnitRef
	TotalQuantity int
}

// SweepStats is what one sweeper pass did.
type SweepStats struct {
	ProductsChecked       int      `json:"productsChecked"`
	VariantsChecked       int      `json:"variantsChecked"`
	ProductsUnlocked      int      `json:"productsUnlocked"`
	VariantsUnlocked      int      `json:"variantsUnlocked"`
	TotalQuantityReleased int      `json:"totalQuantityReleased"`
	Errors                []string `json:"errors"`
}

// UnitSnapshot is a point-in-time read of one ledger row.
type UnitSnapshot struct {
	Ref            UnitRef
	Name           string
	TotalQuantity  int
	LockedQuantity int
	IsAvailable    bool
	SoldOutAt      *time.Time
}

// Available is the derived quantity a new lock can still claim.
func (u UnitSnapshot) Available() int {
	return u.TotalQuantity - u.LockedQuantity
}

// Store is the stock ledger. Every mutation is a conditional atomic
// update ("change WHERE precondition still holds") — implementations must
// never read a quantity and write it back in a second step.
type Store interface {
	// Lock reserves every item or none of them. On failure the error names
	// the first item that could not be locked and nothing is reserved.
	Lock(ctx context.Context, items []LockItem) (*LockReceipt, error)

	// Unlock releases previously locked quantity. Idempotent: items whose
	// locked quantity is already below the requested amount are skipped,
	// not errors, and never abort the batch.
	Unlock(ctx context.Context, items []LockItem) ([]UnlockResult, error)

	// Release releases reservations by id. Unknown or already-settled ids
	// are skipped. This is the precise form of Unlock for callers that
	// kept their receipt.
	Release(ctx context.Context, reservationIDs []string) ([]UnlockResult, error)

	// Purchase permanently decrements total quantity, all-or-nothing,
	// independent of any prior lock. This is the payment-confirmation
	// commit and must be safe under concurrent confirmations.
	Purchase(ctx context.Context, items []LockItem) ([]PurchaseResult, error)

	// Commit converts active reservations into purchases: locked and total
	// quantity drop together, so the pre-lock checkout strategy never
	// double-counts. All-or-nothing.
	Commit(ctx context.Context, reservationIDs []string) ([]PurchaseResult, error)

	// Restock is the compensating increment used on order cancellation.
	// It re-flags the unit available if it was sold out.
	Restock(ctx context.Context, items []LockItem) ([]RestockResult, error)

	// ReleaseExpired releases every active reservation whose deadline is
	// before now. Per-unit failures are collected in the stats, never
	// abort the pass, and the guarded decrement makes it safe to run
	// concurrently with everything else including itself.
	ReleaseExpired(ctx context.Context, now time.Time) (*SweepStats, error)

	// GetUnit reads one ledger row.
	GetUnit(ctx context.Context, ref UnitRef) (*UnitSnapshot, error)
}
