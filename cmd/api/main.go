package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/swiftcart/swiftcart-golang/internal/database"
	"github.com/swiftcart/swiftcart-golang/internal/handlers"
	"github.com/swiftcart/swiftcart-golang/internal/logging"
	"github.com/swiftcart/swiftcart-golang/internal/routes"
	"github.com/swiftcart/swiftcart-golang/internal/stock"
)

func main() {
	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}

	// 1. --- Database Connection ---
	db, err := database.OpenDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// 2. --- Stock Ledger ---
	lockTTL := durationEnv("STOCK_LOCK_TTL", stock.DefaultLockTTL)
	store := stock.NewSQLStore(db, lockTTL, logging.New("ledger"))

	// 3. --- Checkout Strategy ---
	// One strategy per deployment; prelock and direct must never mix for
	// the same cart.
	strategy := os.Getenv("CHECKOUT_STRATEGY")
	switch strategy {
	case handlers.StrategyPrelock, handlers.StrategyDirect:
	case "":
		strategy = handlers.StrategyPrelock
	default:
		log.Fatalf("Invalid CHECKOUT_STRATEGY %q (want %q or %q)", strategy, handlers.StrategyPrelock, handlers.StrategyDirect)
	}

	// 4. --- Background Expiry Sweeper ---
	// The backstop against clients that abandon checkout without calling
	// unlock: releases reservations past their deadline.
	sweepInterval := durationEnv("STOCK_SWEEP_INTERVAL", stock.DefaultSweepInterval)
	sweeper := stock.NewSweeper(store, sweepInterval, logging.New("sweeper"))
	sweeper.Start()
	defer sweeper.Stop()

	// --- Application Setup ---
	app := &handlers.Handlers{
		DB:       db,
		Stock:    store,
		Sweeper:  sweeper,
		Strategy: strategy,
		Log:      logging.New("api"),
	}

	// --- Router Setup ---
	router := routes.SetupRouter(app)

	// --- Start Server ---
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Starting SwiftCart API server on port %s (checkout strategy: %s)...", port, strategy)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// durationEnv reads a time.Duration env var, falling back on empty or
// unparseable values.
func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("WARNING: Invalid %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
