package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	"github.com/swiftcart/swiftcart-golang/internal/models"
)

//
// --- Product Handlers (thin catalog glue over the ledger rows) ---
//

// CreateVariantInput is one variant line inside a product create request.
type CreateVariantInput struct {
	SKU     *string `json:"sku"`
	Options string  `json:"options" binding:"required"`
	Price   float64 `json:"price" binding:"required,gt=0"`
	Stock   int     `json:"stock" binding:"min=0"`
}

// CreateProductInput defines the JSON input for creating a product.
type CreateProductInput struct {
	SKU         *string              `json:"sku"`
	Name        string               `json:"name" binding:"required"`
	Description string               `json:"description"`
	Price       float64              `json:"price" binding:"required,gt=0"`
	Stock       int                  `json:"stock" binding:"min=0"`
	Variants    []CreateVariantInput `json:"variants" binding:"dive"`
}

// CreateProduct is the handler for POST /v1/admin/products
// Creates the catalog row (and variant rows) that the stock ledger
// operations will later lock and decrement.
func (h *Handlers) CreateProduct(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input CreateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Begin Transaction ---
	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback() // Safety net

	now := time.Now()
	isVariable := len(input.Variants) > 0

	// 3. --- Insert Product ---
	// A variable product's own stock columns stay at zero; its variants
	// carry the ledger.
	productStock := input.Stock
	if isVariable {
		productStock = 0
	}

	query := `
		INSERT INTO products (sku, name, slug, description, price, is_variable, status,
			stock_quantity, locked_quantity, is_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'published', ?, 0, 1, ?, ?)`
	result, err := tx.Exec(query, input.SKU, input.Name, slug.Make(input.Name),
		input.Description, input.Price, isVariable, productStock, now, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product"})
		return
	}
	productID, err := result.LastInsertId()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get new product ID"})
		return
	}

	// 4. --- Insert Variants ---
	variantQuery := `
		INSERT INTO product_variants (product_id, sku, options, price,
			stock_quantity, locked_quantity, is_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?)`
	var variantIDs []int64
	for _, v := range input.Variants {
		res, err := tx.Exec(variantQuery, productID, v.SKU, v.Options, v.Price, v.Stock, now, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product variant"})
			return
		}
		variantID, err := res.LastInsertId()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get new variant ID"})
			return
		}
		variantIDs = append(variantIDs, variantID)
	}

	// 5. --- Commit Transaction ---
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Product created successfully",
		"productId":  productID,
		"variantIds": variantIDs,
	})
}

// GetProduct is the handler for GET /v1/products/:id
// Returns the catalog row with its live ledger fields and variants.
func (h *Handlers) GetProduct(c *gin.Context) {
	productID := c.Param("id")

	// 1. --- Fetch Product ---
	var p models.Product
	var soldOutAt sql.NullTime
	query := `
		SELECT id, sku, name, slug, description, price, is_variable, status,
			stock_quantity, locked_quantity, is_available, sold_out_at, created_at, updated_at
		FROM products
		WHERE id = ?`
	err := h.DB.QueryRow(query, productID).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Slug, &p.Description, &p.Price, &p.IsVariable, &p.Status,
		&p.StockQuantity, &p.LockedQuantity, &p.IsAvailable, &soldOutAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}
	if soldOutAt.Valid {
		p.SoldOutAt = &soldOutAt.Time
	}

	// 2. --- Fetch Variants ---
	if p.IsVariable {
		rows, err := h.DB.Query(`
			SELECT id, product_id, sku, options, price,
				stock_quantity, locked_quantity, is_available, sold_out_at, created_at, updated_at
			FROM product_variants
			WHERE product_id = ?`, p.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch variants"})
			return
		}
		defer rows.Close()

		for rows.Next() {
			var v models.ProductVariant
			var vSoldOutAt sql.NullTime
			if err := rows.Scan(
				&v.ID, &v.ProductID, &v.SKU, &v.Options, &v.Price,
				&v.StockQuantity, &v.LockedQuantity, &v.IsAvailable, &vSoldOutAt, &v.CreatedAt, &v.UpdatedAt,
			); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan variant"})
				return
			}
			if vSoldOutAt.Valid {
				v.SoldOutAt = &vSoldOutAt.Time
			}
			p.Variants = append(p.Variants, v)
		}
		if err := rows.Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error iterating variant rows"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"product": p})
}

// GetAllProducts is the handler for GET /v1/products
func (h *Handlers) GetAllProducts(c *gin.Context) {
	query := `
		SELECT id, sku, name, slug, description, price, is_variable, status,
			stock_quantity, locked_quantity, is_available, sold_out_at, created_at, updated_at
		FROM products
		WHERE status = 'published'
		ORDER BY created_at DESC`

	rows, err := h.DB.Query(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database query failed"})
		return
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var soldOutAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.SKU, &p.Name, &p.Slug, &p.Description, &p.Price, &p.IsVariable, &p.Status,
			&p.StockQuantity, &p.LockedQuantity, &p.IsAvailable, &soldOutAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan product row"})
			return
		}
		if soldOutAt.Valid {
			p.SoldOutAt = &soldOutAt.Time
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error iterating product rows"})
		return
	}

	if products == nil {
		products = []models.Product{}
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}
