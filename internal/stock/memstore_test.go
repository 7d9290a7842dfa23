package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *MemStore {
	t.Helper()
	return NewMemStore(10 * time.Minute)
}

func snapshot(t *testing.T, s *MemStore, ref UnitRef) *UnitSnapshot {
	t.Helper()
	snap, err := s.GetUnit(context.Background(), ref)
	require.NoError(t, err)
	return snap
}

func TestLock_Success(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)

	receipt, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	require.Len(t, receipt.Results, 1)

	assert.NotEmpty(t, receipt.Results[0].ReservationID)
	assert.Equal(t, 4, receipt.Results[0].LockedQuantity)
	assert.Equal(t, 6, receipt.Results[0].RemainingAvailable)
	assert.True(t, receipt.ExpiresAt.After(time.Now()))

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 10, snap.TotalQuantity)
	assert.Equal(t, 4, snap.LockedQuantity)
	assert.Equal(t, 6, snap.Available())
}

func TestLock_NotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(99), Quantity: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestLock_Unavailable(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)
	s.SetUnavailable(ProductRef(1))

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitUnavailable)
}

func TestLock_InsufficientStock(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 2)

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 3}})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)
	assert.Equal(t, "Walnut Desk", insufficient.Name)
}

func TestLock_AllOrNothing(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Plenty", 100)
	s.SeedUnit(ProductRef(2), "Gone", 0)

	_, err := s.Lock(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 2},
		{Ref: ProductRef(2), Quantity: 1},
	})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ProductRef(2), insufficient.Ref)

	// The item with plenty of stock must be fully rolled back, not
	// partially locked.
	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.LockedQuantity)
}

func TestLock_NoOversell_Concurrent(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Last One", 1)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 1}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			var insufficient *InsufficientStockError
			if errors.As(err, &insufficient) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one lock must win")
	assert.Equal(t, attempts-1, conflicts)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 1, snap.LockedQuantity)
	assert.Equal(t, 0, snap.Available())
}

func TestUnlock_Idempotent(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)

	// First unlock releases.
	results, err := s.Unlock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].ReleasedQuantity)
	assert.Equal(t, 0, results[0].RemainingLocked)

	// Second identical unlock is a no-op: the item is omitted, the batch
	// does not error, and the ledger does not go negative.
	results, err = s.Unlock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	assert.Empty(t, results)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.LockedQuantity)
	assert.Equal(t, 10, snap.Available())
}

func TestRelease_ByReservationID_Idempotent(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)

	receipt, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 3}})
	require.NoError(t, err)
	id := receipt.Results[0].ReservationID

	results, err := s.Release(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].ReleasedQuantity)

	// Releasing the same reservation again has zero effect.
	results, err = s.Release(context.Background(), []string{id})
	require.NoError(t, err)
	assert.Empty(t, results)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.LockedQuantity)
}

func TestPurchase_SoldOutTransition(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Last One", 1)

	results, err := s.Purchase(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].RemainingStock)
	assert.True(t, results[0].SoldOut)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.TotalQuantity)
	assert.False(t, snap.IsAvailable)
	require.NotNil(t, snap.SoldOutAt)
}

func TestPurchase_NoOvercommit_Concurrent(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Contested", 5)

	// Two concurrent purchases of 3 against total 5: exactly one of the
	// original calls may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Purchase(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 3}})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 2, snap.TotalQuantity)
}

func TestPurchase_AllOrNothing(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Plenty", 100)
	s.SeedUnit(VariantRef(2), "Gone", 0)

	_, err := s.Purchase(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 1},
		{Ref: VariantRef(2), Quantity: 1},
	})
	require.Error(t, err)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 100, snap.TotalQuantity)
}

func TestCommit_ConvertsReservation(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)

	receipt, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	id := receipt.Results[0].ReservationID

	results, err := s.Commit(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].PurchasedQuantity)
	assert.Equal(t, 6, results[0].RemainingStock)

	// Locked and total dropped together: nothing stays reserved and
	// nothing was double-counted.
	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 6, snap.TotalQuantity)
	assert.Equal(t, 0, snap.LockedQuantity)

	// Committing the same reservation twice must fail loudly: money
	// changed hands for it.
	_, err = s.Commit(context.Background(), []string{id})
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestRestock_RevivesSoldOutUnit(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Last One", 1)

	_, err := s.Purchase(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 1}})
	require.NoError(t, err)

	results, err := s.Restock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].TotalQuantity)

	snap := snapshot(t, s, ProductRef(1))
	assert.True(t, snap.IsAvailable)
	assert.Nil(t, snap.SoldOutAt)
}

func TestReleaseExpired_RestoresAvailability(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 5)

	base := time.Now()
	s.Now = func() time.Time { return base }

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot(t, s, ProductRef(1)).Available())

	// Before the deadline nothing is released.
	stats, err := s.ReleaseExpired(context.Background(), base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalQuantityReleased)

	// Past the deadline the hold comes back.
	stats, err = s.ReleaseExpired(context.Background(), base.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProductsChecked)
	assert.Equal(t, 1, stats.ProductsUnlocked)
	assert.Equal(t, 2, stats.TotalQuantityReleased)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.LockedQuantity)
	assert.Equal(t, 5, snap.Available())

	// A second sweep over the same window is a no-op.
	stats, err = s.ReleaseExpired(context.Background(), base.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalQuantityReleased)
}

func TestEndToEnd_LockUnlockPurchase(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 10)
	ctx := context.Background()

	receipt, err := s.Lock(ctx, []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, 6, receipt.Results[0].RemainingAvailable)

	unlocked, err := s.Unlock(ctx, []LockItem{{Ref: ProductRef(1), Quantity: 4}})
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, 10, snapshot(t, s, ProductRef(1)).Available())

	purchased, err := s.Purchase(ctx, []LockItem{{Ref: ProductRef(1), Quantity: 10}})
	require.NoError(t, err)
	assert.True(t, purchased[0].SoldOut)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.TotalQuantity)
	assert.Equal(t, 0, snap.Available())
	assert.False(t, snap.IsAvailable)
}

// Invariant check: whatever interleaving of lock/unlock runs, locked never
// exceeds total and never goes negative.
func TestInvariant_LockedWithinBounds(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Contested", 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := []LockItem{{Ref: ProductRef(1), Quantity: 3}}
			if _, err := s.Lock(ctx, item); err == nil {
				_, _ = s.Unlock(ctx, item)
			}
		}()
	}
	wg.Wait()

	snap := snapshot(t, s, ProductRef(1))
	assert.GreaterOrEqual(t, snap.LockedQuantity, 0)
	assert.LessOrEqual(t, snap.LockedQuantity, snap.TotalQuantity)
	assert.Equal(t, 10, snap.TotalQuantity)
}

// A batch may name the same unit more than once; later lines must see the
// stock the earlier lines already claimed.
func TestLock_DuplicateRefsInBatch(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 5)

	_, err := s.Lock(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 3},
		{Ref: ProductRef(1), Quantity: 3},
	})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)

	// Nothing from the failed batch sticks.
	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 0, snap.LockedQuantity)
	assert.Equal(t, 5, snap.TotalQuantity)
	assert.LessOrEqual(t, snap.LockedQuantity, snap.TotalQuantity)

	// A duplicate batch that fits as a whole is fine.
	receipt, err := s.Lock(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 2},
		{Ref: ProductRef(1), Quantity: 2},
	})
	require.NoError(t, err)
	assert.Len(t, receipt.Results, 2)
	assert.Equal(t, 4, snapshot(t, s, ProductRef(1)).LockedQuantity)
}

func TestPurchase_DuplicateRefsInBatch(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 5)

	_, err := s.Purchase(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 3},
		{Ref: ProductRef(1), Quantity: 3},
	})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)

	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 5, snap.TotalQuantity)
	assert.GreaterOrEqual(t, snap.TotalQuantity, 0)
}

func TestCommit_DuplicateReservationIDs(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 5)

	receipt, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 2}})
	require.NoError(t, err)
	id := receipt.Results[0].ReservationID

	_, err = s.Commit(context.Background(), []string{id, id})
	require.ErrorIs(t, err, ErrReservationNotFound)

	// The failed batch settled nothing; a single commit still works.
	snap := snapshot(t, s, ProductRef(1))
	assert.Equal(t, 5, snap.TotalQuantity)
	assert.Equal(t, 2, snap.LockedQuantity)

	results, err := s.Commit(context.Background(), []string{id})
	require.NoError(t, err)
	assert.Equal(t, 3, results[0].RemainingStock)
}

// A purchase draws on total stock regardless of locks, so the reported
// headroom is the total quantity, not total minus locked.
func TestPurchase_InsufficientReportsTotalHeadroom(t *testing.T) {
	s := setupStore(t)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 2)

	_, err := s.Lock(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 2}})
	require.NoError(t, err)

	_, err = s.Purchase(context.Background(), []LockItem{{Ref: ProductRef(1), Quantity: 3}})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)
}
