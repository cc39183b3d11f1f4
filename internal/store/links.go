package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProductLink maps a product to its page in a shop. At most one link per
// (product, shop) pair; a URL belongs to at most one product globally.
type ProductLink struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	ShopID    string    `db:"shop_id" json:"shop_id"`
	URL       string    `db:"url" json:"url"`
	AddedBy   string    `db:"added_by" json:"added_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	ProductName string `db:"product_name" json:"product_name,omitempty"`
	EAN         string `db:"ean" json:"ean,omitempty"`
}

// LinkDetail is a link joined with shop delivery information.
type LinkDetail struct {
	ProductLink
	ShopName         *string  `db:"shop_name" json:"shop_name,omitempty"`
	DeliveryCost     *float64 `db:"delivery_cost" json:"delivery_cost,omitempty"`
	DeliveryFreeFrom *float64 `db:"delivery_free_from" json:"delivery_free_from,omitempty"`
}

// ShopLinkStats aggregates link counts per shop.
type ShopLinkStats struct {
	ShopID     string    `db:"shop_id" json:"shop_id"`
	LinksCount int       `db:"links_count" json:"links_count"`
	ShopName   *string   `db:"shop_name" json:"shop_name,omitempty"`
	LastAdded  time.Time `db:"last_added" json:"last_added"`
}

// InsertLink adds a product link and returns its generated id.
func (q Queries) InsertLink(ctx context.Context, productID int64, shopID, url, addedBy string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO product_links (product_id, shop_id, url, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, productID, shopID, url, addedBy, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert link %d/%s: %w", productID, shopID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert link %d/%s: %w", productID, shopID, err)
	}
	return id, nil
}

// LinkByPair returns the link for (product, shop), or nil if absent.
func (q Queries) LinkByPair(ctx context.Context, productID int64, shopID string) (*ProductLink, error) {
	var l ProductLink
	err := q.q.GetContext(ctx, &l,
		"SELECT id, product_id, shop_id, url, added_by, created_at FROM product_links WHERE product_id = ? AND shop_id = ?",
		productID, shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("link by pair %d/%s: %w", productID, shopID, err)
	}
	return &l, nil
}

// LinkByURL returns the link holding the exact URL, or nil if absent.
func (q Queries) LinkByURL(ctx context.Context, url string) (*ProductLink, error) {
	var l ProductLink
	err := q.q.GetContext(ctx, &l,
		"SELECT id, product_id, shop_id, url, added_by, created_at FROM product_links WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("link by url: %w", err)
	}
	return &l, nil
}

// ListLinks returns a page of links, newest first, optionally filtered by shop.
func (q Queries) ListLinks(ctx context.Context, shopID string, limit, offset int) ([]ProductLink, error) {
	query := `
		SELECT pl.id, pl.product_id, pl.shop_id, pl.url, pl.added_by, pl.created_at,
		       COALESCE(p.name, '') AS product_name, COALESCE(p.ean, '') AS ean
		FROM product_links pl
		LEFT JOIN products p ON pl.product_id = p.id`
	var args []any
	if shopID != "" {
		query += " WHERE pl.shop_id = ?"
		args = append(args, shopID)
	}
	query += " ORDER BY pl.created_at DESC, pl.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var links []ProductLink
	if err := q.q.SelectContext(ctx, &links, query, args...); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// CountLinks counts links, optionally filtered by shop.
func (q Queries) CountLinks(ctx context.Context, shopID string) (int, error) {
	query := "SELECT COUNT(*) FROM product_links"
	var args []any
	if shopID != "" {
		query += " WHERE shop_id = ?"
		args = append(args, shopID)
	}
	var total int
	if err := q.q.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return total, nil
}

// LinksForProduct returns the product's links with shop delivery info.
func (q Queries) LinksForProduct(ctx context.Context, productID int64) ([]LinkDetail, error) {
	var links []LinkDetail
	err := q.q.SelectContext(ctx, &links, `
		SELECT pl.id, pl.product_id, pl.shop_id, pl.url, pl.added_by, pl.created_at,
		       COALESCE(p.name, '') AS product_name, COALESCE(p.ean, '') AS ean,
		       sc.name AS shop_name, sc.delivery_cost, sc.delivery_free_from
		FROM product_links pl
		LEFT JOIN products p ON pl.product_id = p.id
		LEFT JOIN shop_configs sc ON pl.shop_id = sc.shop_id
		WHERE pl.product_id = ?
		ORDER BY pl.shop_id ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("links for product %d: %w", productID, err)
	}
	return links, nil
}

// LinksByShop aggregates link counts per shop, busiest shops first. last_added
// is carried as a direct column reference through the window subquery; an
// aggregate expression like MAX(created_at) loses the column's declared type
// and the driver would hand it back as a string.
func (q Queries) LinksByShop(ctx context.Context) ([]ShopLinkStats, error) {
	var stats []ShopLinkStats
	err := q.q.SelectContext(ctx, &stats, `
		SELECT x.shop_id, x.links_count, x.last_added, sc.name AS shop_name
		FROM (
			SELECT shop_id,
			       COUNT(*) OVER (PARTITION BY shop_id) AS links_count,
			       created_at AS last_added,
			       ROW_NUMBER() OVER (
			           PARTITION BY shop_id
			           ORDER BY created_at DESC, id DESC
			       ) AS rn
			FROM product_links
		) x
		LEFT JOIN shop_configs sc ON x.shop_id = sc.shop_id
		WHERE x.rn = 1
		ORDER BY x.links_count DESC, x.shop_id
	`)
	if err != nil {
		return nil, fmt.Errorf("links by shop: %w", err)
	}
	return stats, nil
}
