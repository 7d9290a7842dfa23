package stock

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two "terminal" lookup failures. Handlers use
// errors.Is on these to pick the right HTTP status and message.
var (
	// ErrUnitNotFound means the referenced product or variant does not exist.
	ErrUnitNotFound = errors.New("stock unit not found")

	// ErrUnitUnavailable means the unit exists but has been flagged
	// unavailable (discontinued or already sold out).
	ErrUnitUnavailable = errors.New("stock unit is unavailable")

	// ErrReservationNotFound means the reservation id does not reference an
	// active reservation. Release paths treat this as a no-op, commit paths
	// treat it as terminal.
	ErrReservationNotFound = errors.New("reservation not found or no longer active")
)

// InsufficientStockError is the routine "you lost the race" outcome: the
// conditional update matched zero rows because another customer got there
// first. It names the unit that blocked the batch so a multi-item cart
// failure can tell the buyer exactly which product sold out.
type InsufficientStockError struct {
	Ref       UnitRef
	Name      string // product name if known, for the user-facing message
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	label := e.Name
	if label == "" {
		label = e.Ref.String()
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, %d available", label, e.Requested, e.Available)
}

// Message is the storefront-facing text. The wording is part of the
// contract: it must read as "someone else bought this first", not as a
// generic failure the buyer would retry.
func (e *InsufficientStockError) Message() string {
	label := e.Name
	if label == "" {
		label = e.Ref.String()
	}
	if e.Available > 0 {
		return fmt.Sprintf("Only %d of %q left — another customer got the rest first", e.Available, label)
	}
	return fmt.Sprintf("%q was just sold out to another customer", label)
}

// NotFoundError wraps ErrUnitNotFound with the offending reference.
type NotFoundError struct {
	Ref UnitRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Ref, ErrUnitNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrUnitNotFound }

// UnavailableError wraps ErrUnitUnavailable with the offending reference.
type UnavailableError struct {
	Ref  UnitRef
	Name string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Ref, ErrUnitUnavailable)
}

func (e *UnavailableError) Unwrap() error { return ErrUnitUnavailable }

// IsBusinessError reports whether err is an expected business-rule outcome
// (lost race, bad reference) rather than an infrastructure failure. Business
// failures are routine and logged quietly; everything else is alert-worthy.
func IsBusinessError(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrUnitUnavailable) ||
		errors.Is(err, ErrReservationNotFound)
}
