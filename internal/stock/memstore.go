package stock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memUnit struct {
	name        string
	total       int
	locked      int
	isAvailable bool
	soldOutAt   *time.Time
}

type memReservation struct {
	id        string
	ref       UnitRef
	quantity  int
	status    string
	createdAt time.Time
	expiresAt time.Time
}

// MemStore is an in-memory Store with the same observable semantics as
// SQLStore. It exists for tests and for running the API without MySQL; a
// single mutex stands in for the database's per-row atomic update.
type MemStore struct {
	mu           sync.Mutex
	units        map[UnitRef]*memUnit
	reservations map[string]*memReservation

	// Now is the injectable clock; tests move it to trigger expiry.
	Now func() time.Time

	lockTTL time.Duration
}

// NewMemStore builds an empty in-memory ledger. A zero ttl falls back to
// DefaultLockTTL.
func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &MemStore{
		units:        make(map[UnitRef]*memUnit),
		reservations: make(map[string]*memReservation),
		Now:          time.Now,
		lockTTL:      ttl,
	}
}

// SeedUnit creates or replaces a stock unit. Test and dev helper.
func (m *MemStore) SeedUnit(ref UnitRef, name string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[ref] = &memUnit{name: name, total: total, isAvailable: true}
}

// SetUnavailable flags a unit discontinued. Test helper.
func (m *MemStore) SetUnavailable(ref UnitRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.units[ref]; ok {
		u.isAvailable = false
	}
}

func (m *MemStore) Lock(_ context.Context, items []LockItem) (*LockReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	expiresAt := now.Add(m.lockTTL)

	// First pass: every item must pass its precondition, or nothing locks.
	// The check runs against the state the batch has built up so far, so a
	// batch naming the same unit twice sees its own earlier lines — the
	// same view each sequential conditional UPDATE gets in SQLStore.
	pending := make(map[UnitRef]int)
	for _, item := range items {
		u, ok := m.units[item.Ref]
		if !ok {
			return nil, &NotFoundError{Ref: item.Ref}
		}
		if !u.isAvailable {
			return nil, &UnavailableError{Ref: item.Ref, Name: u.name}
		}
		available := u.total - u.locked - pending[item.Ref]
		if available < item.Quantity {
			return nil, &InsufficientStockError{
				Ref:       item.Ref,
				Name:      u.name,
				Requested: item.Quantity,
				Available: available,
			}
		}
		pending[item.Ref] += item.Quantity
	}

	results := make([]LockResult, 0, len(items))
	for _, item := range items {
		u := m.units[item.Ref]
		u.locked += item.Quantity

		r := &memReservation{
			id:        uuid.New().String(),
			ref:       item.Ref,
			quantity:  item.Quantity,
			status:    ReservationActive,
			createdAt: now,
			expiresAt: expiresAt,
		}
		m.reservations[r.id] = r

		results = append(results, LockResult{
			Ref:                item.Ref,
			ReservationID:      r.id,
			LockedQuantity:     item.Quantity,
			RemainingAvailable: u.total - u.locked,
		})
	}
	return &LockReceipt{Results: results, ExpiresAt: expiresAt}, nil
}

func (m *MemStore) Unlock(_ context.Context, items []LockItem) ([]UnlockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]UnlockResult, 0, len(items))

	for _, item := range items {
		u, ok := m.units[item.Ref]
		if !ok || u.locked < item.Quantity {
			continue // per-item miss: omitted, never aborts the batch
		}
		u.locked -= item.Quantity

		if r := m.oldestActive(item.Ref, item.Quantity); r != nil {
			r.status = ReservationReleased
		}

		results = append(results, UnlockResult{
			Ref:              item.Ref,
			ReleasedQuantity: item.Quantity,
			RemainingLocked:  u.locked,
		})
	}
	return results, nil
}

// oldestActive finds the earliest active reservation on ref with the given
// quantity. Mirrors the ORDER BY created_at LIMIT 1 settle in SQLStore.
func (m *MemStore) oldestActive(ref UnitRef, quantity int) *memReservation {
	var best *memReservation
	for _, r := range m.reservations {
		if r.ref != ref || r.status != ReservationActive || r.quantity != quantity {
			continue
		}
		if best == nil || r.createdAt.Before(best.createdAt) {
			best = r
		}
	}
	return best
}

func (m *MemStore) Release(_ context.Context, reservationIDs []string) ([]UnlockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]UnlockResult, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		r, ok := m.reservations[id]
		if !ok || r.status != ReservationActive {
			continue
		}
		u, ok := m.units[r.ref]
		if !ok || u.locked < r.quantity {
			continue
		}
		r.status = ReservationReleased
		u.locked -= r.quantity
		results = append(results, UnlockResult{
			Ref:              r.ref,
			ReleasedQuantity: r.quantity,
			RemainingLocked:  u.locked,
		})
	}
	return results, nil
}

func (m *MemStore) Purchase(_ context.Context, items []LockItem) ([]PurchaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()

	// Validate against running totals so repeated refs within the batch
	// cannot overdraw; a purchase's headroom is the total quantity, locked
	// or not.
	pending := make(map[UnitRef]int)
	for _, item := range items {
		u, ok := m.units[item.Ref]
		if !ok {
			return nil, &NotFoundError{Ref: item.Ref}
		}
		if !u.isAvailable {
			return nil, &UnavailableError{Ref: item.Ref, Name: u.name}
		}
		remaining := u.total - pending[item.Ref]
		if remaining < item.Quantity {
			return nil, &InsufficientStockError{
				Ref:       item.Ref,
				Name:      u.name,
				Requested: item.Quantity,
				Available: remaining,
			}
		}
		pending[item.Ref] += item.Quantity
	}

	results := make([]PurchaseResult, 0, len(items))
	for _, item := range items {
		u := m.units[item.Ref]
		u.total -= item.Quantity

		soldOut := u.total == 0
		if soldOut {
			u.isAvailable = false
			t := now
			u.soldOutAt = &t
		}
		results = append(results, PurchaseResult{
			Ref:               item.Ref,
			PurchasedQuantity: item.Quantity,
			RemainingStock:    u.total,
			SoldOut:           soldOut,
		})
	}
	return results, nil
}

func (m *MemStore) Commit(_ context.Context, reservationIDs []string) ([]PurchaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()

	// Validate every reservation before mutating anything: all-or-nothing.
	// A repeated id counts as already settled, exactly as the SQL store's
	// status-guarded settle would treat it.
	seen := make(map[string]bool)
	for _, id := range reservationIDs {
		r, ok := m.reservations[id]
		if !ok || r.status != ReservationActive || seen[id] {
			return nil, fmt.Errorf("commit reservation %s: %w", id, ErrReservationNotFound)
		}
		seen[id] = true
		u, ok := m.units[r.ref]
		if !ok {
			return nil, &NotFoundError{Ref: r.ref}
		}
		if !u.isAvailable {
			return nil, &UnavailableError{Ref: r.ref, Name: u.name}
		}
		if u.total < r.quantity || u.locked < r.quantity {
			return nil, &InsufficientStockError{
				Ref:       r.ref,
				Name:      u.name,
				Requested: r.quantity,
				Available: u.total - u.locked,
			}
		}
	}

	results := make([]PurchaseResult, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		r := m.reservations[id]
		u := m.units[r.ref]

		r.status = ReservationConfirmed
		u.total -= r.quantity
		u.locked -= r.quantity

		soldOut := u.total == 0
		if soldOut {
			u.isAvailable = false
			t := now
			u.soldOutAt = &t
		}
		results = append(results, PurchaseResult{
			Ref:               r.ref,
			PurchasedQuantity: r.quantity,
			RemainingStock:    u.total,
			SoldOut:           soldOut,
		})
	}
	return results, nil
}

func (m *MemStore) Restock(_ context.Context, items []LockItem) ([]RestockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]RestockResult, 0, len(items))
	for _, item := range items {
		u, ok := m.units[item.Ref]
		if !ok {
			return nil, &NotFoundError{Ref: item.Ref}
		}
		u.total += item.Quantity
		u.isAvailable = true
		u.soldOutAt = nil
		results = append(results, RestockResult{Ref: item.Ref, TotalQuantity: u.total})
	}
	return results, nil
}

func (m *MemStore) ReleaseExpired(_ context.Context, now time.Time) (*SweepStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deterministic order keeps the stats stable under test.
	ids := make([]string, 0, len(m.reservations))
	for id, r := range m.reservations {
		if r.status == ReservationActive && r.expiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	stats := &SweepStats{Errors: []string{}}
	for _, id := range ids {
		r := m.reservations[id]
		if r.ref.Kind == RefVariant {
			stats.VariantsChecked++
		} else {
			stats.ProductsChecked++
		}

		u, ok := m.units[r.ref]
		if !ok || u.locked < r.quantity {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: locked quantity below reservation", r.ref))
			continue
		}
		r.status = ReservationExpired
		u.locked -= r.quantity

		if r.ref.Kind == RefVariant {
			stats.VariantsUnlocked++
		} else {
			stats.ProductsUnlocked++
		}
		stats.TotalQuantityReleased += r.quantity
	}
	return stats, nil
}

func (m *MemStore) GetUnit(_ context.Context, ref UnitRef) (*UnitSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[ref]
	if !ok {
		return nil, &NotFoundError{Ref: ref}
	}
	return &UnitSnapshot{
		Ref:            ref,
		Name:           u.name,
		TotalQuantity:  u.total,
		LockedQuantity: u.locked,
		IsAvailable:    u.isAvailable,
		SoldOutAt:      u.soldOutAt,
	}, nil
}
