package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Product is a tracked product. Rows are immutable once created.
type Product struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	NameKey   string    `db:"name_key" json:"-"`
	EAN       string    `db:"ean" json:"ean,omitempty"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InsertProduct adds a product and returns its generated id. nameKey is the
// folded phonetic key used for fuzzy duplicate detection.
func (q Queries) InsertProduct(ctx context.Context, name, nameKey, ean, createdBy string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO products (name, name_key, ean, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, nameKey, ean, createdBy, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert product %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert product %q: %w", name, err)
	}
	return id, nil
}

// GetProduct returns the product with the given id, or nil if absent.
func (q Queries) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := q.q.GetContext(ctx, &p, "SELECT * FROM products WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &p, nil
}

// ProductsByIDs fetches the given products in id order.
func (q Queries) ProductsByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("products by ids: %w", err)
	}
	var products []Product
	if err := q.q.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("products by ids: %w", err)
	}
	return products, nil
}

// ProductsExist reports, for each id, whether the product exists. One batched
// query regardless of input size.
func (q Queries) ProductsExist(ctx context.Context, ids []int64) (map[int64]bool, error) {
	exists := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return exists, nil
	}
	query, args, err := sqlx.In("SELECT id FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("products exist: %w", err)
	}
	var found []int64
	if err := q.q.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("products exist: %w", err)
	}
	for _, id := range found {
		exists[id] = true
	}
	return exists, nil
}

// ProductByExactMatch finds a product with the exact name, or the exact EAN
// when ean is non-empty. Returns nil if no such product exists.
func (q Queries) ProductByExactMatch(ctx context.Context, name, ean string) (*Product, error) {
	var p Product
	err := q.q.GetContext(ctx, &p,
		"SELECT * FROM products WHERE name = ? OR (ean = ? AND ean != '') LIMIT 1",
		name, ean)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("product exact match %q: %w", name, err)
	}
	return &p, nil
}

// ProductsByNameKey returns products whose folded phonetic key matches.
func (q Queries) ProductsByNameKey(ctx context.Context, nameKey string) ([]Product, error) {
	var products []Product
	err := q.q.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE name_key = ? ORDER BY id", nameKey)
	if err != nil {
		return nil, fmt.Errorf("products by name key: %w", err)
	}
	return products, nil
}

// ListProducts returns a page of products, newest first, optionally filtered
// by a name/EAN substring.
func (q Queries) ListProducts(ctx context.Context, search string, limit, offset int) ([]Product, error) {
	query := "SELECT * FROM products"
	var args []any
	if search != "" {
		query += " WHERE name LIKE ? OR ean LIKE ?"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var products []Product
	if err := q.q.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// CountProducts counts products matching the optional search filter.
func (q Queries) CountProducts(ctx context.Context, search string) (int, error) {
	query := "SELECT COUNT(*) FROM products"
	var args []any
	if search != "" {
		query += " WHERE name LIKE ? OR ean LIKE ?"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	var total int
	if err := q.q.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return total, nil
}

// SearchProducts matches products by name substring or exact EAN, exact name
// matches first.
func (q Queries) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	var products []Product
	err := q.q.SelectContext(ctx, &products, `
		SELECT * FROM products
		WHERE name LIKE ? OR ean = ?
		ORDER BY CASE WHEN name = ? THEN 1 ELSE 2 END, name ASC
		LIMIT ?
	`, "%"+term+"%", term, term, limit)
	if err != nil {
		return nil, fmt.Errorf("search products %q: %w", term, err)
	}
	return products, nil
}
