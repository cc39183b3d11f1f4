package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ShopConfig holds per-shop scraping configuration. The selector and search
// blobs are stored and served verbatim, never interpreted.
type ShopConfig struct {
	ShopID           string          `db:"shop_id" json:"shop_id"`
	Name             string          `db:"name" json:"name"`
	PriceSelectors   json.RawMessage `db:"price_selectors" json:"price_selectors"`
	DeliveryFreeFrom *float64        `db:"delivery_free_from" json:"delivery_free_from"`
	DeliveryCost     *float64        `db:"delivery_cost" json:"delivery_cost"`
	Currency         string          `db:"currency" json:"currency"`
	SearchConfig     json.RawMessage `db:"search_config" json:"search_config"`
	UpdatedBy        string          `db:"updated_by" json:"updated_by"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Upsert actions reported by UpsertShopConfig.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// GetShopConfig returns a shop's config, or nil if absent.
func (q Queries) GetShopConfig(ctx context.Context, shopID string) (*ShopConfig, error) {
	var cfg ShopConfig
	err := q.q.GetContext(ctx, &cfg, "SELECT * FROM shop_configs WHERE shop_id = ?", shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shop config %s: %w", shopID, err)
	}
	return &cfg, nil
}

// ListShopConfigs returns all shop configs ordered by shop id. A non-zero
// modifiedSince narrows to configs updated after that instant.
func (q Queries) ListShopConfigs(ctx context.Context, modifiedSince time.Time) ([]ShopConfig, error) {
	query := "SELECT * FROM shop_configs"
	var args []any
	if !modifiedSince.IsZero() {
		query += " WHERE updated_at > ?"
		args = append(args, modifiedSince)
	}
	query += " ORDER BY shop_id ASC"

	var configs []ShopConfig
	if err := q.q.SelectContext(ctx, &configs, query, args...); err != nil {
		return nil, fmt.Errorf("list shop configs: %w", err)
	}
	return configs, nil
}

// UpsertShopConfig inserts or updates a shop config by its natural key and
// reports which action was taken.
func (q Queries) UpsertShopConfig(ctx context.Context, cfg ShopConfig) (string, error) {
	selectors := cfg.PriceSelectors
	if len(selectors) == 0 {
		selectors = json.RawMessage("{}")
	}
	searchCfg := cfg.SearchConfig
	if len(searchCfg) == 0 {
		searchCfg = json.RawMessage("{}")
	}

	var existing string
	err := q.q.GetContext(ctx, &existing,
		"SELECT shop_id FROM shop_configs WHERE shop_id = ?", cfg.ShopID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.q.ExecContext(ctx, `
			INSERT INTO shop_configs (shop_id, name, price_selectors, delivery_free_from,
			                          delivery_cost, currency, search_config, updated_by, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, cfg.ShopID, cfg.Name, string(selectors), cfg.DeliveryFreeFrom,
			cfg.DeliveryCost, cfg.Currency, string(searchCfg), cfg.UpdatedBy, time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("insert shop config %s: %w", cfg.ShopID, err)
		}
		return ActionCreated, nil
	case err != nil:
		return "", fmt.Errorf("upsert shop config %s: %w", cfg.ShopID, err)
	}

	_, err = q.q.ExecContext(ctx, `
		UPDATE shop_configs
		SET name = ?, price_selectors = ?, delivery_free_from = ?, delivery_cost = ?,
		    currency = ?, search_config = ?, updated_by = ?, updated_at = ?
		WHERE shop_id = ?
	`, cfg.Name, string(selectors), cfg.DeliveryFreeFrom, cfg.DeliveryCost,
		cfg.Currency, string(searchCfg), cfg.UpdatedBy, time.Now().UTC(), cfg.ShopID)
	if err != nil {
		return "", fmt.Errorf("update shop config %s: %w", cfg.ShopID, err)
	}
	return ActionUpdated, nil
}
