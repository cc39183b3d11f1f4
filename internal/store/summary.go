package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Change is one recent mutation in the activity feed.
type Change struct {
	Type       string    `db:"type" json:"type"`
	EntityID   int64     `db:"entity_id" json:"entity_id"`
	EntityName string    `db:"entity_name" json:"entity_name"`
	UserID     string    `db:"user_id" json:"user_id"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}

// ShopDataStats aggregates linked products and observations per shop.
type ShopDataStats struct {
	ShopID        string  `db:"shop_id" json:"shop_id"`
	Name          *string `db:"name" json:"name,omitempty"`
	ProductsCount int     `db:"products_count" json:"products_count"`
	PricesCount   int     `db:"prices_count" json:"prices_count"`
}

// Summary is a point-in-time overview of the whole database.
type Summary struct {
	TableCounts       map[string]int  `json:"table_counts"`
	LatestProductDate *time.Time      `json:"latest_product_date"`
	LatestPriceDate   *time.Time      `json:"latest_price_date"`
	ActiveUsers30d    int             `json:"active_users_30d"`
	ShopsData         []ShopDataStats `json:"shops_data"`
}

var summaryTables = []string{
	"users", "products", "product_links", "prices", "shop_configs", "substitute_groups",
}

// TableCounts counts rows in every public table.
func (q Queries) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(summaryTables))
	for _, table := range summaryTables {
		var n int
		if err := q.q.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// DatabaseSummary builds the full summary view.
func (q Queries) DatabaseSummary(ctx context.Context) (*Summary, error) {
	counts, err := q.TableCounts(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{TableCounts: counts}

	summary.LatestProductDate, err = q.latestTimestamp(ctx, "products", "created_at")
	if err != nil {
		return nil, err
	}
	summary.LatestPriceDate, err = q.latestTimestamp(ctx, "prices", "created_at")
	if err != nil {
		return nil, err
	}

	summary.ActiveUsers30d, err = q.CountActiveUsers(ctx, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	err = q.q.SelectContext(ctx, &summary.ShopsData, `
		SELECT sc.shop_id, sc.name,
		       COUNT(DISTINCT pl.product_id) AS products_count,
		       COUNT(DISTINCT pr.id) AS prices_count
		FROM shop_configs sc
		LEFT JOIN product_links pl ON sc.shop_id = pl.shop_id
		LEFT JOIN prices pr ON sc.shop_id = pr.shop_id
		GROUP BY sc.shop_id, sc.name
		ORDER BY products_count DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("shops data: %w", err)
	}
	return summary, nil
}

func (q Queries) latestTimestamp(ctx context.Context, table, column string) (*time.Time, error) {
	var ts time.Time
	err := q.q.GetContext(ctx, &ts,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 1", column, table, column))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s.%s: %w", table, column, err)
	}
	return &ts, nil
}

// RecentChanges merges product, link and price mutations since the given
// instant into one feed, newest first, capped at limit.
func (q Queries) RecentChanges(ctx context.Context, since time.Time, limit int) ([]Change, error) {
	var changes []Change

	var products []Change
	err := q.q.SelectContext(ctx, &products, `
		SELECT 'product' AS type, id AS entity_id, name AS entity_name,
		       created_by AS user_id, created_at AS timestamp
		FROM products WHERE created_at >= ?
	`, since)
	if err != nil {
		return nil, fmt.Errorf("recent products: %w", err)
	}
	changes = append(changes, products...)

	var links []Change
	err = q.q.SelectContext(ctx, &links, `
		SELECT 'link' AS type, pl.id AS entity_id,
		       COALESCE(p.name, '') || ' -> ' || pl.shop_id AS entity_name,
		       pl.added_by AS user_id, pl.created_at AS timestamp
		FROM product_links pl
		LEFT JOIN products p ON pl.product_id = p.id
		WHERE pl.created_at >= ?
	`, since)
	if err != nil {
		return nil, fmt.Errorf("recent links: %w", err)
	}
	changes = append(changes, links...)

	var prices []Change
	err = q.q.SelectContext(ctx, &prices, `
		SELECT 'price' AS type, pr.id AS entity_id,
		       COALESCE(p.name, '') || ' (' || pr.shop_id || '): ' || pr.price || ' ' || pr.currency AS entity_name,
		       pr.user_id AS user_id, pr.created_at AS timestamp
		FROM prices pr
		LEFT JOIN products p ON pr.product_id = p.id
		WHERE pr.created_at >= ?
	`, since)
	if err != nil {
		return nil, fmt.Errorf("recent prices: %w", err)
	}
	changes = append(changes, prices...)

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Timestamp.After(changes[j].Timestamp)
	})
	if limit > 0 && len(changes) > limit {
		changes = changes[:limit]
	}
	return changes, nil
}

// ContributionBreakdown counts one user's rows per entity kind.
func (q Queries) ContributionBreakdown(ctx context.Context, userID string) (map[string]int, error) {
	queries := map[string]string{
		"products":          "SELECT COUNT(*) FROM products WHERE created_by = ?",
		"links":             "SELECT COUNT(*) FROM product_links WHERE added_by = ?",
		"prices":            "SELECT COUNT(*) FROM prices WHERE user_id = ?",
		"shop_configs":      "SELECT COUNT(*) FROM shop_configs WHERE updated_by = ?",
		"substitute_groups": "SELECT COUNT(*) FROM substitute_groups WHERE created_by = ?",
	}
	breakdown := make(map[string]int, len(queries))
	for kind, query := range queries {
		var n int
		if err := q.q.GetContext(ctx, &n, query, userID); err != nil {
			return nil, fmt.Errorf("contribution breakdown %s: %w", kind, err)
		}
		breakdown[kind] = n
	}
	return breakdown, nil
}

// RecentActivityForUser merges the user's latest prices and products into one
// short feed, newest first.
func (q Queries) RecentActivityForUser(ctx context.Context, userID string, limit int) ([]Change, error) {
	var activity []Change

	var prices []Change
	err := q.q.SelectContext(ctx, &prices, `
		SELECT 'price' AS type, product_id AS entity_id, '' AS entity_name,
		       user_id, created_at AS timestamp
		FROM prices WHERE user_id = ?
		ORDER BY created_at DESC LIMIT 5
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("recent user prices: %w", err)
	}
	activity = append(activity, prices...)

	var products []Change
	err = q.q.SelectContext(ctx, &products, `
		SELECT 'product' AS type, id AS entity_id, name AS entity_name,
		       created_by AS user_id, created_at AS timestamp
		FROM products WHERE created_by = ?
		ORDER BY created_at DESC LIMIT 5
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("recent user products: %w", err)
	}
	activity = append(activity, products...)

	sort.Slice(activity, func(i, j int) bool {
		return activity[i].Timestamp.After(activity[j].Timestamp)
	})
	if limit > 0 && len(activity) > limit {
		activity = activity[:limit]
	}
	return activity, nil
}
