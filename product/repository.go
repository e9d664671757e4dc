package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested product does not exist.
var ErrNotFound = errors.New("product: not found")

// Repository provides read access to the product directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a product by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Product, error) {
	const query = `
		SELECT id, vendor_id, title, created_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.VendorID, &p.Title, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("product: query by id: %w", err)
	}

	return p, nil
}

// ListByVendor fetches up to limit products owned by the vendor.
func (r *Repository) ListByVendor(ctx context.Context, vendorID string, limit int) ([]Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, vendor_id, title, created_at
		FROM products
		WHERE vendor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, vendorID, limit)
	if err != nil {
		return nil, fmt.Errorf("product: list by vendor: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, limit)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.Title, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("product: scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("product: iterate products: %w", err)
	}

	return products, nil
}
