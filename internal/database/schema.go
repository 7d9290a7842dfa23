package database

import (
	"context"
	"database/sql"
	"log"
	"strings"
)

// InitializeSchema creates the tables the API needs if they don't exist
// yet. The ledger columns (stock_quantity, locked_quantity, is_available,
// sold_out_at) live directly on the catalog rows; stock_reservations holds
// one row per live hold so the sweeper can expire exactly, not by guess.
func InitializeSchema(db *sql.DB) error {
	log.Println("Checking database schema...")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			role VARCHAR(32) NOT NULL DEFAULT 'customer',
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			full_name VARCHAR(255) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			sku VARCHAR(64),
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(255) NOT NULL,
			description TEXT,
			price DECIMAL(10,2) NOT NULL DEFAULT 0,
			is_variable TINYINT(1) NOT NULL DEFAULT 0,
			status VARCHAR(32) NOT NULL DEFAULT 'published',
			stock_quantity INT NOT NULL DEFAULT 0,
			locked_quantity INT NOT NULL DEFAULT 0,
			is_available TINYINT(1) NOT NULL DEFAULT 1,
			sold_out_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS product_variants (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			sku VARCHAR(64),
			options VARCHAR(512) NOT NULL DEFAULT '',
			price DECIMAL(10,2) NOT NULL DEFAULT 0,
			stock_quantity INT NOT NULL DEFAULT 0,
			locked_quantity INT NOT NULL DEFAULT 0,
			is_available TINYINT(1) NOT NULL DEFAULT 1,
			sold_out_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (product_id) REFERENCES products(id)
		)`,

		`CREATE TABLE IF NOT EXISTS stock_reservations (
			id CHAR(36) PRIMARY KEY,
			product_id BIGINT NULL,
			variant_id BIGINT NULL,
			quantity INT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			settled_at DATETIME NULL
		)`,

		`CREATE INDEX idx_reservations_expiry ON stock_reservations(status, expires_at)`,
		`CREATE INDEX idx_reservations_product ON stock_reservations(product_id)`,
		`CREATE INDEX idx_reservations_variant ON stock_reservations(variant_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate-key
			// error on re-run is expected and harmless.
			if strings.HasPrefix(stmt, "CREATE INDEX") && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return err
		}
	}

	log.Println("Database schema initialized successfully.")
	return nil
}
