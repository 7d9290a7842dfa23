package stock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lost races (lock/purchase conflicts) are routine business outcomes, so
// they get counters instead of error logs; alerting keys off infra errors.
var (
	lockAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_lock_attempts_total",
		Help: "Lock batches attempted.",
	})
	lockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_lock_conflicts_total",
		Help: "Lock batches rejected because another customer won the race.",
	})
	purchaseAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_purchase_attempts_total",
		Help: "Purchase batches attempted.",
	})
	purchaseConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_purchase_conflicts_total",
		Help: "Purchase batches rejected for insufficient stock.",
	})
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_sweep_runs_total",
		Help: "Expiry sweeper passes completed.",
	})
	sweepReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftcart_stock_sweep_released_quantity_total",
		Help: "Total quantity returned to availability by the sweeper.",
	})
)

// CountLockAttempt records a lock batch and whether it lost a race.
func CountLockAttempt(conflict bool) {
	lockAttempts.Inc()
	if conflict {
		lockConflicts.Inc()
	}
}

// CountPurchaseAttempt records a purchase batch and whether it was rejected.
func CountPurchaseAttempt(conflict bool) {
	purchaseAttempts.Inc()
	if conflict {
		purchaseConflicts.Inc()
	}
}
