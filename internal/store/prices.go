package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Price is a single append-only price observation.
type Price struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	ShopID    string    `db:"shop_id" json:"shop_id"`
	Price     float64   `db:"price" json:"price"`
	Currency  string    `db:"currency" json:"currency"`
	PriceType string    `db:"price_type" json:"price_type"`
	URL       string    `db:"url" json:"url,omitempty"`
	UserID    string    `db:"user_id" json:"user_id"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PriceRecord is the input for a new observation. CreatedAt defaults to now.
type PriceRecord struct {
	ProductID int64
	ShopID    string
	Price     float64
	Currency  string
	PriceType string
	URL       string
	UserID    string
	Source    string
	CreatedAt time.Time
}

// LatestPrice is the most recent observation for a (product, shop) pair,
// joined with product and shop names.
type LatestPrice struct {
	ProductID   int64     `db:"product_id" json:"product_id"`
	ShopID      string    `db:"shop_id" json:"shop_id"`
	Price       float64   `db:"price" json:"price"`
	Currency    string    `db:"currency" json:"currency"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ProductName *string   `db:"product_name" json:"product_name,omitempty"`
	EAN         *string   `db:"ean" json:"ean,omitempty"`
	ShopName    *string   `db:"shop_name" json:"shop_name,omitempty"`
}

// ShopPrice is an observation joined with shop delivery information.
type ShopPrice struct {
	ShopID           string    `db:"shop_id" json:"shop_id"`
	Price            float64   `db:"price" json:"price"`
	Currency         string    `db:"currency" json:"currency"`
	PriceType        string    `db:"price_type" json:"price_type"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	ShopName         *string   `db:"shop_name" json:"shop_name,omitempty"`
	DeliveryCost     *float64  `db:"delivery_cost" json:"delivery_cost,omitempty"`
	DeliveryFreeFrom *float64  `db:"delivery_free_from" json:"delivery_free_from,omitempty"`
}

// UserPriceStats summarizes one user's price contributions.
type UserPriceStats struct {
	TotalPrices   int `json:"total_prices"`
	RecentPrices  int `json:"recent_prices"`
	ShopsCount    int `json:"shops_count"`
	ProductsCount int `json:"products_count"`
}

// InsertPrice appends a price observation and returns its generated id.
// Existing observations are never modified.
func (q Queries) InsertPrice(ctx context.Context, r PriceRecord) (int64, error) {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO prices (product_id, shop_id, price, currency, price_type, url, user_id, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ProductID, r.ShopID, r.Price, r.Currency, r.PriceType, r.URL, r.UserID, r.Source, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert price %d/%s: %w", r.ProductID, r.ShopID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert price %d/%s: %w", r.ProductID, r.ShopID, err)
	}
	return id, nil
}

// LatestPrices computes the most recent observation per (product, shop) pair
// from the append-only log. Filters are conjunctive.
func (q Queries) LatestPrices(ctx context.Context, productIDs []int64, shopIDs []string, limit int) ([]LatestPrice, error) {
	query := `
		SELECT lp.product_id, lp.shop_id, lp.price, lp.currency, lp.created_at,
		       p.name AS product_name, p.ean, sc.name AS shop_name
		FROM (
			SELECT product_id, shop_id, price, currency, created_at,
			       ROW_NUMBER() OVER (
			           PARTITION BY product_id, shop_id
			           ORDER BY created_at DESC, id DESC
			       ) AS rn
			FROM prices
		) lp
		LEFT JOIN products p ON lp.product_id = p.id
		LEFT JOIN shop_configs sc ON lp.shop_id = sc.shop_id
		WHERE lp.rn = 1`
	var args []any

	if len(productIDs) > 0 {
		in, inArgs, err := sqlx.In(" AND lp.product_id IN (?)", productIDs)
		if err != nil {
			return nil, fmt.Errorf("latest prices: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	if len(shopIDs) > 0 {
		in, inArgs, err := sqlx.In(" AND lp.shop_id IN (?)", shopIDs)
		if err != nil {
			return nil, fmt.Errorf("latest prices: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}

	query += " ORDER BY lp.product_id, lp.shop_id LIMIT ?"
	args = append(args, limit)

	var prices []LatestPrice
	if err := q.q.SelectContext(ctx, &prices, query, args...); err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	return prices, nil
}

// PricesForProductSince returns a product's observations newer than since,
// joined with shop delivery info, grouped by shop and newest first per shop.
func (q Queries) PricesForProductSince(ctx context.Context, productID int64, since time.Time) ([]ShopPrice, error) {
	var prices []ShopPrice
	err := q.q.SelectContext(ctx, &prices, `
		SELECT pr.shop_id, pr.price, pr.currency, pr.price_type, pr.created_at,
		       sc.name AS shop_name, sc.delivery_cost, sc.delivery_free_from
		FROM prices pr
		LEFT JOIN shop_configs sc ON pr.shop_id = sc.shop_id
		WHERE pr.product_id = ? AND pr.created_at >= ?
		ORDER BY pr.shop_id, pr.created_at DESC
	`, productID, since)
	if err != nil {
		return nil, fmt.Errorf("prices for product %d: %w", productID, err)
	}
	return prices, nil
}

// PriceHistory returns observations in ascending time order for charting.
// shopID narrows to one shop when non-empty.
func (q Queries) PriceHistory(ctx context.Context, productID int64, shopID string, since time.Time) ([]Price, error) {
	query := "SELECT * FROM prices WHERE product_id = ? AND created_at >= ?"
	args := []any{productID, since}
	if shopID != "" {
		query += " AND shop_id = ?"
		args = append(args, shopID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	var history []Price
	if err := q.q.SelectContext(ctx, &history, query, args...); err != nil {
		return nil, fmt.Errorf("price history %d: %w", productID, err)
	}
	return history, nil
}

// PriceStatsForUser computes contribution statistics for one user.
func (q Queries) PriceStatsForUser(ctx context.Context, userID string) (*UserPriceStats, error) {
	var stats UserPriceStats
	err := q.q.GetContext(ctx, &stats.TotalPrices,
		"SELECT COUNT(*) FROM prices WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("price stats %s: %w", userID, err)
	}
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	err = q.q.GetContext(ctx, &stats.RecentPrices,
		"SELECT COUNT(*) FROM prices WHERE user_id = ? AND created_at >= ?", userID, weekAgo)
	if err != nil {
		return nil, fmt.Errorf("price stats %s: %w", userID, err)
	}
	err = q.q.GetContext(ctx, &stats.ShopsCount,
		"SELECT COUNT(DISTINCT shop_id) FROM prices WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("price stats %s: %w", userID, err)
	}
	err = q.q.GetContext(ctx, &stats.ProductsCount,
		"SELECT COUNT(DISTINCT product_id) FROM prices WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("price stats %s: %w", userID, err)
	}
	return &stats, nil
}
