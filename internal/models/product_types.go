package models

import (
	"time"
)

// Product is the model for the 'products' table. The stock ledger columns
// (StockQuantity, LockedQuantity, IsAvailable, SoldOutAt) live here rather
// than in a separate table: the catalog row IS the ledger row.
type Product struct {
	ID          int64   `json:"id" db:"id"`
	SKU         *string `json:"sku,omitempty" db:"sku"`
	Name        string  `json:"name" db:"name"`
	Slug        string  `json:"slug" db:"slug"`
	Description string  `json:"description" db:"description"`
	Price       float64 `json:"price" db:"price"`
	IsVariable  bool    `json:"isVariable" db:"is_variable"`
	Status      string  `json:"status" db:"status"`

	// --- Stock Ledger ---
	StockQuantity  int        `json:"stock" db:"stock_quantity"`
	LockedQuantity int        `json:"lockedQuantity" db:"locked_quantity"`
	IsAvailable    bool       `json:"isAvailable" db:"is_available"`
	SoldOutAt      *time.Time `json:"soldOutAt,omitempty" db:"sold_out_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Joins (not in DB table, populated manually)
	Variants []ProductVariant `json:"variants,omitempty" db:"-"`
}

// Available is the stock a new reservation can still claim.
func (p Product) Available() int {
	return p.StockQuantity - p.LockedQuantity
}

// ProductVariant is the model for the 'product_variants' table. Each
// variant carries its own ledger columns, independent of its parent.
type ProductVariant struct {
	ID        int64   `json:"id" db:"id"`
	ProductID int64   `json:"productId" db:"product_id"`
	SKU       *string `json:"sku,omitempty" db:"sku"`
	Options   string  `json:"options" db:"options"` // e.g. "Color: Red / Size: M"
	Price     float64 `json:"price" db:"price"`

	// --- Stock Ledger ---
	StockQuantity  int        `json:"stock" db:"stock_quantity"`
	LockedQuantity int        `json:"lockedQuantity" db:"locked_quantity"`
	IsAvailable    bool       `json:"isAvailable" db:"is_available"`
	SoldOutAt      *time.Time `json:"soldOutAt,omitempty" db:"sold_out_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Available is the stock a new reservation can still claim.
func (v ProductVariant) Available() int {
	return v.StockQuantity - v.LockedQuantity
}
