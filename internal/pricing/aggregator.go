// Package pricing computes price views over the append-only observation log
// and records new observations. Prior observations are never mutated; the
// "latest price" per (product, shop) pair is always derived at query time.
package pricing

import (
	"context"
	"time"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/batch"
	"github.com/mwalczyk/priceradar/internal/store"
)

// Bounds shared with the HTTP layer.
const (
	MaxPrice         = 999999.99
	MaxLatestLimit   = 5000
	MaxProductDays   = 90
	MaxHistoryDays   = 365
	MaxBulkPrices    = 500
	DefaultLatestCap = 1000
)

// ValidCurrencies are the accepted price currencies.
var ValidCurrencies = map[string]bool{"PLN": true, "EUR": true, "USD": true}

// Aggregator serves price queries and appends observations. Stateless over
// the store.
type Aggregator struct {
	store *store.Store
}

// New creates an Aggregator.
func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Filter narrows LatestPrices; both lists are conjunctive when given.
type Filter struct {
	ProductIDs []int64
	ShopIDs    []string
}

// LatestPrices returns the most recent observation per (product, shop) pair
// matching the filter.
func (a *Aggregator) LatestPrices(ctx context.Context, f Filter, limit int) ([]store.LatestPrice, error) {
	if limit <= 0 {
		limit = DefaultLatestCap
	}
	if limit > MaxLatestLimit {
		limit = MaxLatestLimit
	}
	prices, err := a.store.LatestPrices(ctx, f.ProductIDs, f.ShopIDs, limit)
	if err != nil {
		return nil, apperr.Infra("latest prices", err)
	}
	return prices, nil
}

// ShopGroup is a product's observations in one shop, annotated with the
// shop's delivery terms.
type ShopGroup struct {
	ShopID           string            `json:"shop_id"`
	ShopName         *string           `json:"shop_name,omitempty"`
	DeliveryCost     *float64          `json:"delivery_cost,omitempty"`
	DeliveryFreeFrom *float64          `json:"delivery_free_from,omitempty"`
	Prices           []store.ShopPrice `json:"prices"`
}

// ProductPrices groups a product's recent observations by shop.
type ProductPrices struct {
	ProductID int64             `json:"product_id"`
	ByShop    []ShopGroup       `json:"by_shop"`
	AllPrices []store.ShopPrice `json:"all_prices"`
	Days      int               `json:"days"`
}

// PricesForProduct returns the product's observations from the last days
// days, grouped per shop with delivery costs attached.
func (a *Aggregator) PricesForProduct(ctx context.Context, productID int64, days int) (*ProductPrices, error) {
	if productID <= 0 {
		return nil, apperr.Validationf("valid product_id is required")
	}
	if days <= 0 {
		days = 7
	}
	if days > MaxProductDays {
		days = MaxProductDays
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := a.store.PricesForProductSince(ctx, productID, since)
	if err != nil {
		return nil, apperr.Infra("prices for product", err)
	}

	byShop := make([]ShopGroup, 0)
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.ShopID]
		if !ok {
			i = len(byShop)
			index[row.ShopID] = i
			byShop = append(byShop, ShopGroup{
				ShopID:           row.ShopID,
				ShopName:         row.ShopName,
				DeliveryCost:     row.DeliveryCost,
				DeliveryFreeFrom: row.DeliveryFreeFrom,
			})
		}
		byShop[i].Prices = append(byShop[i].Prices, row)
	}

	return &ProductPrices{
		ProductID: productID,
		ByShop:    byShop,
		AllPrices: rows,
		Days:      days,
	}, nil
}

// PriceHistory returns a chronologically ascending observation list for
// charting. No downsampling is applied.
func (a *Aggregator) PriceHistory(ctx context.Context, productID int64, shopID string, days int) ([]store.Price, error) {
	if productID <= 0 {
		return nil, apperr.Validationf("valid product_id is required")
	}
	if days <= 0 {
		days = 30
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	history, err := a.store.PriceHistory(ctx, productID, shopID, since)
	if err != nil {
		return nil, apperr.Infra("price history", err)
	}
	return history, nil
}

// Input is one price observation to record.
type Input struct {
	LocalID   any     `json:"local_id,omitempty"`
	ProductID int64   `json:"product_id"`
	ShopID    string  `json:"shop_id"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	PriceType string  `json:"price_type"`
	URL       string  `json:"url"`
	Source    string  `json:"source"`
}

func (in *Input) applyDefaults(priceType, source string) {
	if in.Currency == "" {
		in.Currency = "PLN"
	}
	if in.PriceType == "" {
		in.PriceType = priceType
	}
	if in.Source == "" {
		in.Source = source
	}
}

// RecordPrice validates and appends one observation, incrementing the
// caller's contribution counter. Rejects unknown currencies outright.
func (a *Aggregator) RecordPrice(ctx context.Context, userID string, in Input) (int64, error) {
	in.applyDefaults("manual", "api")

	if in.ProductID <= 0 {
		return 0, apperr.Validationf("valid product_id is required")
	}
	if in.ShopID == "" {
		return 0, apperr.Validationf("shop id is required")
	}
	if in.Price <= 0 || in.Price > MaxPrice {
		return 0, apperr.Validationf("valid price is required (0.01 - %.2f)", MaxPrice)
	}
	if !ValidCurrencies[in.Currency] {
		return 0, apperr.Validationf("currency must be PLN, EUR or USD")
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return 0, apperr.Infra("record price", err)
	}
	defer tx.Rollback()

	product, err := tx.GetProduct(ctx, in.ProductID)
	if err != nil {
		return 0, apperr.Infra("record price", err)
	}
	if product == nil {
		return 0, apperr.NotFound("product", in.ProductID)
	}

	id, err := tx.InsertPrice(ctx, store.PriceRecord{
		ProductID: in.ProductID,
		ShopID:    in.ShopID,
		Price:     in.Price,
		Currency:  in.Currency,
		PriceType: in.PriceType,
		URL:       in.URL,
		UserID:    userID,
		Source:    in.Source,
	})
	if err != nil {
		return 0, apperr.Infra("record price", err)
	}
	if err := tx.IncrementContributions(ctx, userID, 1); err != nil {
		return 0, apperr.Infra("record price", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Infra("record price", err)
	}
	return id, nil
}

// BulkRecordPrices appends a batch of observations in one transaction.
// Referenced products are pre-validated with one batched existence query.
// Unknown currencies are normalized to PLN here rather than rejected, unlike
// the single-item path; bulk submitters rely on this.
func (a *Aggregator) BulkRecordPrices(ctx context.Context, userID string, items []Input) (*batch.Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("prices array is required")
	}
	if len(items) > MaxBulkPrices {
		return nil, apperr.Validationf("maximum %d prices per batch", MaxBulkPrices)
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("bulk record prices", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool)
	for _, in := range items {
		if in.ProductID > 0 && !seen[in.ProductID] {
			seen[in.ProductID] = true
			ids = append(ids, in.ProductID)
		}
	}
	exists, err := tx.ProductsExist(ctx, ids)
	if err != nil {
		return nil, apperr.Infra("bulk record prices", err)
	}

	result := &batch.Result{Summary: batch.Summary{TotalProcessed: len(items)}}

	for i, in := range items {
		localID := batch.LocalID(in.LocalID, i)
		in.applyDefaults("scraped", "bulk_api")

		if in.ProductID <= 0 || !exists[in.ProductID] {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "product not found",
			})
			result.Summary.Skipped++
			continue
		}
		if in.ShopID == "" || in.Price <= 0 || in.Price > MaxPrice {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "invalid data",
			})
			result.Summary.Skipped++
			continue
		}
		if !ValidCurrencies[in.Currency] {
			in.Currency = "PLN"
		}

		id, err := tx.InsertPrice(ctx, store.PriceRecord{
			ProductID: in.ProductID,
			ShopID:    in.ShopID,
			Price:     in.Price,
			Currency:  in.Currency,
			PriceType: in.PriceType,
			URL:       in.URL,
			UserID:    userID,
			Source:    in.Source,
		})
		if err != nil {
			return nil, apperr.Infra("bulk record prices", err)
		}

		result.Results = append(result.Results, batch.ItemResult{
			LocalID: localID, Success: true, ID: id,
		})
		result.Summary.Added++
	}

	if err := tx.IncrementContributions(ctx, userID, result.Summary.Added); err != nil {
		return nil, apperr.Infra("bulk record prices", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("bulk record prices", err)
	}
	return result, nil
}

// UserStats summarizes one user's price contributions.
func (a *Aggregator) UserStats(ctx context.Context, userID string) (*store.UserPriceStats, error) {
	stats, err := a.store.PriceStatsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Infra("user stats", err)
	}
	return stats, nil
}
