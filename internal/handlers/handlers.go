package handlers

import (
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/swiftcart/swiftcart-golang/internal/stock"
)

// Checkout strategies. Exactly one is active per deployment; they must
// never be mixed for the same cart.
const (
	// StrategyPrelock reserves stock at cart time and converts the
	// reservation at payment confirmation.
	StrategyPrelock = "prelock"

	// StrategyDirect skips locking entirely: the atomic decrement at
	// payment confirmation is itself the race resolution (first to pay
	// wins).
	StrategyDirect = "direct"
)

// Handlers holds all dependencies for our handlers.
type Handlers struct {
	DB       *sql.DB     // catalog + user queries
	Stock    stock.Store // the inventory ledger
	Sweeper  *stock.Sweeper
	Strategy string // StrategyPrelock or StrategyDirect
	Log      zerolog.Logger
}
