package stock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLockTTL is how long a reservation holds stock before the sweeper
// may reclaim it. Ten minutes is comfortably longer than a checkout form
// but short enough that abandoned carts don't starve other buyers.
const DefaultLockTTL = 10 * time.Minute

// SQLStore is the production ledger, backed by the same MySQL rows that
// hold the product catalog plus a stock_reservations table. The database's
// single-row conditional UPDATE is the only serialization point: there is
// no in-process mutex anywhere on these paths.
type SQLStore struct {
	db      *sql.DB
	lockTTL time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewSQLStore wires a ledger over an existing connection pool. A zero ttl
// falls back to DefaultLockTTL.
func NewSQLStore(db *sql.DB, ttl time.Duration, log zerolog.Logger) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &SQLStore{
		db:      db,
		lockTTL: ttl,
		now:     time.Now,
		log:     log,
	}
}

// tableFor maps a unit kind to the catalog table carrying its ledger columns.
func tableFor(kind RefKind) string {
	if kind == RefVariant {
		return "product_variants"
	}
	return "products"
}

// reservationColumnFor maps a unit kind to its stock_reservations FK column.
func reservationColumnFor(kind RefKind) string {
	if kind == RefVariant {
		return "variant_id"
	}
	return "product_id"
}

// Lock reserves every item in one transaction. Each item is a single
// conditional update; zero rows affected means the precondition no longer
// holds and the whole batch rolls back.
func (s *SQLStore) Lock(ctx context.Context, items []LockItem) (*LockReceipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback() // Safety net: no-op after a successful Commit.

	now := s.now()
	expiresAt := now.Add(s.lockTTL)
	results := make([]LockResult, 0, len(items))

	for _, item := range items {
		table := tableFor(item.Ref.Kind)

		// The correctness boundary: increment locked_quantity only if the
		// unit is still available and has enough unreserved stock. The
		// arithmetic happens inside the UPDATE, never in Go.
		query := fmt.Sprintf(`
			UPDATE %s
			SET locked_quantity = locked_quantity + ?, updated_at = ?
			WHERE id = ? AND is_available = 1
			  AND stock_quantity - locked_quantity >= ?`, table)

		res, err := tx.ExecContext(ctx, query, item.Quantity, now, item.Ref.ID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", item.Ref, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("lock %s: rows affected: %w", item.Ref, err)
		}
		if affected == 0 {
			// Zero rows is the signal, not an exception. Diagnose which of
			// the three distinct failures it was so the caller knows
			// whether this is "not found", "discontinued" or "lost the
			// race" — they get different storefront messages.
			return nil, s.diagnoseLockFailure(ctx, tx, item)
		}

		snap, err := s.readUnitTx(ctx, tx, item.Ref)
		if err != nil {
			return nil, err
		}

		reservationID := uuid.New().String()
		insert := fmt.Sprintf(`
			INSERT INTO stock_reservations (id, %s, quantity, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`, reservationColumnFor(item.Ref.Kind))
		if _, err := tx.ExecContext(ctx, insert, reservationID, item.Ref.ID, item.Quantity, ReservationActive, now, expiresAt); err != nil {
			return nil, fmt.Errorf("record reservation for %s: %w", item.Ref, err)
		}

		results = append(results, LockResult{
			Ref:                item.Ref,
			ReservationID:      reservationID,
			LockedQuantity:     item.Quantity,
			RemainingAvailable: snap.Available(),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lock tx: %w", err)
	}

	return &LockReceipt{Results: results, ExpiresAt: expiresAt}, nil
}

// diagnoseLockFailure figures out why a conditional lock update matched
// nothing. Best effort: by the time we re-read, the row may have changed
// again, but the update above already decided the outcome.
func (s *SQLStore) diagnoseLockFailure(ctx context.Context, tx *sql.Tx, item LockItem) error {
	snap, err := s.readUnitTx(ctx, tx, item.Ref)
	if err != nil {
		return err
	}
	if !snap.IsAvailable {
		return &UnavailableError{Ref: item.Ref, Name: snap.Name}
	}
	return &InsufficientStockError{
		Ref:       item.Ref,
		Name:      snap.Name,
		Requested: item.Quantity,
		Available: snap.Available(),
	}
}

// diagnosePurchaseFailure is the purchase-path counterpart of
// diagnoseLockFailure. A purchase draws on total stock regardless of what
// is locked, so the reported headroom is the total quantity.
func (s *SQLStore) diagnosePurchaseFailure(ctx context.Context, tx *sql.Tx, item LockItem) error {
	snap, err := s.readUnitTx(ctx, tx, item.Ref)
	if err != nil {
		return err
	}
	if !snap.IsAvailable {
		return &UnavailableError{Ref: item.Ref, Name: snap.Name}
	}
	return &InsufficientStockError{
		Ref:       item.Ref,
		Name:      snap.Name,
		Requested: item.Quantity,
		Available: snap.TotalQuantity,
	}
}

// Unlock releases reserved quantity item by item. The locked_quantity >= ?
// guard is what makes double-unlock harmless: the second call matches zero
// rows and the item is simply left out of the result set.
func (s *SQLStore) Unlock(ctx context.Context, items []LockItem) ([]UnlockResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unlock tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	results := make([]UnlockResult, 0, len(items))

	for _, item := range items {
		table := tableFor(item.Ref.Kind)

		query := fmt.Sprintf(`
			UPDATE %s
			SET locked_quantity = locked_quantity - ?, updated_at = ?
			WHERE id = ? AND locked_quantity >= ?`, table)

		res, err := tx.ExecContext(ctx, query, item.Quantity, now, item.Ref.ID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", item.Ref, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("unlock %s: rows affected: %w", item.Ref, err)
		}
		if affected == 0 {
			// Nothing left to release for this item. Unlike Lock, a miss
			// here does not abort the batch.
			continue
		}

		// Settle the oldest matching active reservation so the sweeper
		// doesn't release the same quantity a second time.
		settle := fmt.Sprintf(`
			UPDATE stock_reservations
			SET status = ?, settled_at = ?
			WHERE %s = ? AND status = ? AND quantity = ?
			ORDER BY created_at
			LIMIT 1`, reservationColumnFor(item.Ref.Kind))
		if _, err := tx.ExecContext(ctx, settle, ReservationReleased, now, item.Ref.ID, ReservationActive, item.Quantity); err != nil {
			return nil, fmt.Errorf("settle reservation for %s: %w", item.Ref, err)
		}

		snap, err := s.readUnitTx(ctx, tx, item.Ref)
		if err != nil {
			return nil, err
		}
		results = append(results, UnlockResult{
			Ref:              item.Ref,
			ReleasedQuantity: item.Quantity,
			RemainingLocked:  snap.LockedQuantity,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unlock tx: %w", err)
	}
	return results, nil
}

// Release unlocks by reservation id. The id-based form is exact: each
// reservation settles at most once, so retried release calls are no-ops.
func (s *SQLStore) Release(ctx context.Context, reservationIDs []string) ([]UnlockResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	results := make([]UnlockResult, 0, len(reservationIDs))

	for _, id := range reservationIDs {
		ref, qty, err := s.settleReservationTx(ctx, tx, id, ReservationReleased, now)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			continue // already settled or unknown — idempotent skip
		}

		table := tableFor(ref.Kind)
		query := fmt.Sprintf(`
			UPDATE %s
			SET locked_quantity = locked_quantity - ?, updated_at = ?
			WHERE id = ? AND locked_quantity >= ?`, table)
		res, err := tx.ExecContext(ctx, query, qty, now, ref.ID, qty)
		if err != nil {
			return nil, fmt.Errorf("release %s: %w", ref, err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("release %s: rows affected: %w", ref, err)
		} else if affected == 0 {
			continue
		}

		snap, err := s.readUnitTx(ctx, tx, *ref)
		if err != nil {
			return nil, err
		}
		results = append(results, UnlockResult{
			Ref:              *ref,
			ReleasedQuantity: qty,
			RemainingLocked:  snap.LockedQuantity,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit release tx: %w", err)
	}
	return results, nil
}

// settleReservationTx flips one active reservation to the given terminal
// status and returns its unit ref and quantity. Returns (nil, 0, nil) when
// the reservation is unknown or no longer active.
func (s *SQLStore) settleReservationTx(ctx context.Context, tx *sql.Tx, id, status string, now time.Time) (*UnitRef, int, error) {
	var productID, variantID sql.NullInt64
	var quantity int

	err := tx.QueryRowContext(ctx, `
		SELECT product_id, variant_id, quantity
		FROM stock_reservations
		WHERE id = ? AND status = ?
		FOR UPDATE`, id, ReservationActive).Scan(&productID, &variantID, &quantity)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load reservation %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations SET status = ?, settled_at = ? WHERE id = ?`,
		status, now, id); err != nil {
		return nil, 0, fmt.Errorf("settle reservation %s: %w", id, err)
	}

	var ref UnitRef
	if variantID.Valid {
		ref = VariantRef(variantID.Int64)
	} else {
		ref = ProductRef(productID.Int64)
	}
	return &ref, quantity, nil
}

// Purchase permanently decrements total stock, all-or-nothing. It neither
// reads nor touches locked_quantity: in the direct checkout strategy this
// single conditional update IS the race resolution (first to pay wins).
func (s *SQLStore) Purchase(ctx context.Context, items []LockItem) ([]PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	results := make([]PurchaseResult, 0, len(items))

	for _, item := range items {
		result, err := s.purchaseItemTx(ctx, tx, item, item.Quantity, now)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purchase tx: %w", err)
	}
	return results, nil
}

// purchaseItemTx runs the conditional decrement for one item plus the
// sold-out transition. lockedDelta is subtracted from locked_quantity in
// the same statement (used by Commit, zero for plain Purchase).
func (s *SQLStore) purchaseItemTx(ctx context.Context, tx *sql.Tx, item LockItem, lockedDelta int, now time.Time) (*PurchaseResult, error) {
	table := tableFor(item.Ref.Kind)

	query := fmt.Sprintf(`
		UPDATE %s
		SET stock_quantity = stock_quantity - ?,
		    locked_quantity = locked_quantity - ?,
		    updated_at = ?
		WHERE id = ? AND is_available = 1
		  AND stock_quantity >= ? AND locked_quantity >= ?`, table)

	res, err := tx.ExecContext(ctx, query, item.Quantity, lockedDelta, now, item.Ref.ID, item.Quantity, lockedDelta)
	if err != nil {
		return nil, fmt.Errorf("purchase %s: %w", item.Ref, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("purchase %s: rows affected: %w", item.Ref, err)
	}
	if affected == 0 {
		return nil, s.diagnosePurchaseFailure(ctx, tx, item)
	}

	snap, err := s.readUnitTx(ctx, tx, item.Ref)
	if err != nil {
		return nil, err
	}

	soldOut := snap.TotalQuantity == 0
	if soldOut {
		flag := fmt.Sprintf(`
			UPDATE %s SET is_available = 0, sold_out_at = ?, updated_at = ?
			WHERE id = ? AND stock_quantity = 0`, table)
		if _, err := tx.ExecContext(ctx, flag, now, now, item.Ref.ID); err != nil {
			return nil, fmt.Errorf("flag %s sold out: %w", item.Ref, err)
		}
	}

	return &PurchaseResult{
		Ref:               item.Ref,
		PurchasedQuantity: item.Quantity,
		RemainingStock:    snap.TotalQuantity,
		SoldOut:           soldOut,
	}, nil
}

// Commit converts active reservations into committed purchases: total and
// locked quantity drop together so the pre-lock strategy never frees stock
// into a window where another buyer could take it.
func (s *SQLStore) Commit(ctx context.Context, reservationIDs []string) ([]PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	results := make([]PurchaseResult, 0, len(reservationIDs))

	for _, id := range reservationIDs {
		ref, qty, err := s.settleReservationTx(ctx, tx, id, ReservationConfirmed, now)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			// A payment for an expired or unknown reservation must not be
			// silently dropped: the caller has taken money for it.
			return nil, fmt.Errorf("commit reservation %s: %w", id, ErrReservationNotFound)
		}

		result, err := s.purchaseItemTx(ctx, tx, LockItem{Ref: *ref, Quantity: qty}, qty, now)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservations tx: %w", err)
	}
	return results, nil
}

// Restock is the compensating increment for a cancelled order. A restocked
// unit becomes available again; SoldOut is not a terminal state.
func (s *SQLStore) Restock(ctx context.Context, items []LockItem) ([]RestockResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin restock tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	results := make([]RestockResult, 0, len(items))

	for _, item := range items {
		table := tableFor(item.Ref.Kind)

		query := fmt.Sprintf(`
			UPDATE %s
			SET stock_quantity = stock_quantity + ?,
			    is_available = 1, sold_out_at = NULL, updated_at = ?
			WHERE id = ?`, table)
		res, err := tx.ExecContext(ctx, query, item.Quantity, now, item.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("restock %s: %w", item.Ref, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("restock %s: rows affected: %w", item.Ref, err)
		}
		if affected == 0 {
			return nil, &NotFoundError{Ref: item.Ref}
		}

		snap, err := s.readUnitTx(ctx, tx, item.Ref)
		if err != nil {
			return nil, err
		}
		results = append(results, RestockResult{Ref: item.Ref, TotalQuantity: snap.TotalQuantity})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit restock tx: %w", err)
	}
	return results, nil
}

// ReleaseExpired settles every active reservation past its deadline. Each
// reservation gets its own small transaction so one poisoned row cannot
// wedge the whole pass; failures are reported in the stats and the pass
// moves on.
func (s *SQLStore) ReleaseExpired(ctx context.Context, now time.Time) (*SweepStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, variant_id, quantity
		FROM stock_reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at`, ReservationActive, now)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	type expired struct {
		id       string
		ref      UnitRef
		quantity int
	}
	var batch []expired
	for rows.Next() {
		var e expired
		var productID, variantID sql.NullInt64
		if err := rows.Scan(&e.id, &productID, &variantID, &e.quantity); err != nil {
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		if variantID.Valid {
			e.ref = VariantRef(variantID.Int64)
		} else {
			e.ref = ProductRef(productID.Int64)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}

	stats := &SweepStats{Errors: []string{}}
	for _, e := range batch {
		if e.ref.Kind == RefVariant {
			stats.VariantsChecked++
		} else {
			stats.ProductsChecked++
		}

		released, err := s.releaseExpiredOne(ctx, e.id, e.ref, e.quantity, now)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", e.ref, err))
			s.log.Error().Err(err).Stringer("unit", e.ref).Str("reservation", e.id).
				Msg("sweep: failed to release expired reservation")
			continue
		}
		if released {
			if e.ref.Kind == RefVariant {
				stats.VariantsUnlocked++
			} else {
				stats.ProductsUnlocked++
			}
			stats.TotalQuantityReleased += e.quantity
		}
	}
	return stats, nil
}

// releaseExpiredOne settles a single expired reservation in its own tx.
// Returns false when another actor (an explicit unlock, a concurrent
// sweep) already settled it — that is a clean no-op, not an error.
func (s *SQLStore) releaseExpiredOne(ctx context.Context, id string, ref UnitRef, quantity int, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback()

	// Settle the reservation first; the status guard means exactly one
	// sweeper/unlocker wins the row.
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations SET status = ?, settled_at = ?
		WHERE id = ? AND status = ?`,
		ReservationExpired, now, id, ReservationActive)
	if err != nil {
		return false, fmt.Errorf("expire reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire reservation: rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	table := tableFor(ref.Kind)
	query := fmt.Sprintf(`
		UPDATE %s
		SET locked_quantity = locked_quantity - ?, updated_at = ?
		WHERE id = ? AND locked_quantity >= ?`, table)
	res, err = tx.ExecContext(ctx, query, quantity, now, ref.ID, quantity)
	if err != nil {
		return false, fmt.Errorf("release locked quantity: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release locked quantity: rows affected: %w", err)
	}
	if affected == 0 {
		// The aggregate already dropped below this reservation's quantity
		// (a partial quantity-based unlock drained it). Rolling back leaves
		// the reservation active and nothing gets counted as released.
		return false, fmt.Errorf("locked quantity below reservation")
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit sweep tx: %w", err)
	}
	return true, nil
}

// GetUnit reads one ledger row outside any transaction.
func (s *SQLStore) GetUnit(ctx context.Context, ref UnitRef) (*UnitSnapshot, error) {
	return s.readUnit(ctx, s.db, ref)
}

// queryRower lets the same read run against either *sql.DB or *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) readUnitTx(ctx context.Context, tx *sql.Tx, ref UnitRef) (*UnitSnapshot, error) {
	return s.readUnit(ctx, tx, ref)
}

func (s *SQLStore) readUnit(ctx context.Context, q queryRower, ref UnitRef) (*UnitSnapshot, error) {
	var query string
	if ref.Kind == RefVariant {
		query = `
			SELECT p.name, v.stock_quantity, v.locked_quantity, v.is_available, v.sold_out_at
			FROM product_variants v
			JOIN products p ON v.product_id = p.id
			WHERE v.id = ?`
	} else {
		query = `
			SELECT name, stock_quantity, locked_quantity, is_available, sold_out_at
			FROM products
			WHERE id = ?`
	}

	snap := &UnitSnapshot{Ref: ref}
	var soldOutAt sql.NullTime
	err := q.QueryRowContext(ctx, query, ref.ID).Scan(
		&snap.Name, &snap.TotalQuantity, &snap.LockedQuantity, &snap.IsAvailable, &soldOutAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("read unit %s: %w", ref, err)
	}
	if soldOutAt.Valid {
		snap.SoldOutAt = &soldOutAt.Time
	}
	return snap, nil
}
