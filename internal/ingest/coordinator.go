// Package ingest runs the bulk submission pipelines. Every batch executes in
// a single transaction: per-item validation failures are itemized and skipped
// while infrastructure faults abort the whole batch, so a batch is either
// fully committed (minus itemized skips) or not applied at all.
package ingest

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/batch"
	"github.com/mwalczyk/priceradar/internal/catalog"
	"github.com/mwalczyk/priceradar/internal/pricing"
	"github.com/mwalczyk/priceradar/internal/store"
)

// Batch caps per entity kind.
const (
	MaxBulkProducts    = 100
	MaxBulkLinks       = 200
	MaxBulkShopConfigs = 50
	MaxSyncPrices      = 100
)

// Coordinator executes bulk submissions.
type Coordinator struct {
	store *store.Store
}

// New creates a Coordinator.
func New(s *store.Store) *Coordinator {
	return &Coordinator{store: s}
}

// ProductInput is one product in a bulk submission.
type ProductInput struct {
	LocalID any    `json:"local_id,omitempty"`
	Name    string `json:"name"`
	EAN     string `json:"ean"`
}

// LinkInput is one product link in a bulk submission.
type LinkInput struct {
	LocalID   any    `json:"local_id,omitempty"`
	ProductID int64  `json:"product_id"`
	ShopID    string `json:"shop_id"`
	URL       string `json:"url"`
}

// BulkAddProducts inserts a batch of products. Exact duplicates (name, or
// EAN when given) are skipped with the existing product's id reported back.
func (c *Coordinator) BulkAddProducts(ctx context.Context, userID string, items []ProductInput) (*batch.Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("products array is required")
	}
	if len(items) > MaxBulkProducts {
		return nil, apperr.Validationf("maximum %d products per batch", MaxBulkProducts)
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("bulk add products", err)
	}
	defer tx.Rollback()

	result := &batch.Result{Summary: batch.Summary{TotalProcessed: len(items)}}

	for i, in := range items {
		localID := batch.LocalID(in.LocalID, i)
		name := strings.TrimSpace(in.Name)

		if len(name) < catalog.MinProductName || len(name) > catalog.MaxProductName {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "invalid product name",
			})
			result.Summary.Skipped++
			continue
		}

		// Duplicate screening runs inside the transaction so earlier
		// items of the same batch are visible.
		existing, err := tx.ProductByExactMatch(ctx, name, in.EAN)
		if err != nil {
			return nil, apperr.Infra("bulk add products", err)
		}
		if existing != nil {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "product already exists", ExistingID: existing.ID,
			})
			result.Summary.Skipped++
			continue
		}

		id, err := tx.InsertProduct(ctx, name, catalog.NameKey(name), in.EAN, userID)
		if err != nil {
			return nil, apperr.Infra("bulk add products", err)
		}
		result.Results = append(result.Results, batch.ItemResult{
			LocalID: localID, Success: true, ID: id, Name: name,
		})
		result.Summary.Added++
	}

	if err := tx.IncrementContributions(ctx, userID, result.Summary.Added); err != nil {
		return nil, apperr.Infra("bulk add products", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("bulk add products", err)
	}
	return result, nil
}

// BulkAddLinks inserts a batch of product links. Referenced products are
// pre-validated with one batched query; (product, shop) and URL duplicates
// are skipped with the existing link's id.
func (c *Coordinator) BulkAddLinks(ctx context.Context, userID string, items []LinkInput) (*batch.Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("links array is required")
	}
	if len(items) > MaxBulkLinks {
		return nil, apperr.Validationf("maximum %d links per batch", MaxBulkLinks)
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("bulk add links", err)
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
		return nil, apperr.Infra("bulk add links", err)
	}

	result := &batch.Result{Summary: batch.Summary{TotalProcessed: len(items)}}

	for i, in := range items {
		localID := batch.LocalID(in.LocalID, i)

		if in.ProductID <= 0 || !exists[in.ProductID] {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "product not found",
			})
			result.Summary.Skipped++
			continue
		}
		if in.ShopID == "" || !validURL(in.URL) {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "invalid data",
			})
			result.Summary.Skipped++
			continue
		}

		if dup, err := tx.LinkByPair(ctx, in.ProductID, in.ShopID); err != nil {
			return nil, apperr.Infra("bulk add links", err)
		} else if dup != nil {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "link already exists", ExistingID: dup.ID,
			})
			result.Summary.Skipped++
			continue
		}
		if dup, err := tx.LinkByURL(ctx, in.URL); err != nil {
			return nil, apperr.Infra("bulk add links", err)
		} else if dup != nil {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "url already linked", ExistingID: dup.ID,
			})
			result.Summary.Skipped++
			continue
		}

		id, err := tx.InsertLink(ctx, in.ProductID, in.ShopID, in.URL, userID)
		if err != nil {
			return nil, apperr.Infra("bulk add links", err)
		}
		result.Results = append(result.Results, batch.ItemResult{
			LocalID: localID, Success: true, ID: id,
		})
		result.Summary.Added++
	}

	if err := tx.IncrementContributions(ctx, userID, result.Summary.Added); err != nil {
		return nil, apperr.Infra("bulk add links", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("bulk add links", err)
	}
	return result, nil
}

// BulkUpdateShopConfigs upserts a batch of shop configs. Unknown currencies
// are normalized to PLN, matching the other bulk paths.
func (c *Coordinator) BulkUpdateShopConfigs(ctx context.Context, userID string, items []catalog.ShopConfigInput) (*batch.Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("shops array is required")
	}
	if len(items) > MaxBulkShopConfigs {
		return nil, apperr.Validationf("maximum %d shop configs per batch", MaxBulkShopConfigs)
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("bulk update shop configs", err)
	}
	defer tx.Rollback()

	result := &batch.Result{Summary: batch.Summary{TotalProcessed: len(items)}}

	for i, in := range items {
		localID := batch.LocalID(in.LocalID, i)

		if in.ShopID == "" {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "invalid data",
			})
			result.Summary.Skipped++
			continue
		}
		if !pricing.ValidCurrencies[in.Currency] {
			in.Currency = "PLN"
		}
		if in.Name == "" {
			in.Name = in.ShopID
		}

		action, err := tx.UpsertShopConfig(ctx, store.ShopConfig{
			ShopID:           in.ShopID,
			Name:             in.Name,
			PriceSelectors:   in.PriceSelectors,
			DeliveryFreeFrom: in.DeliveryFreeFrom,
			DeliveryCost:     in.DeliveryCost,
			Currency:         in.Currency,
			SearchConfig:     in.SearchConfig,
			UpdatedBy:        userID,
		})
		if err != nil {
			return nil, apperr.Infra("bulk update shop configs", err)
		}

		result.Results = append(result.Results, batch.ItemResult{
			LocalID: localID, Success: true, Action: action,
		})
		if action == store.ActionCreated {
			result.Summary.Added++
		} else {
			result.Summary.Updated++
		}
	}

	if err := tx.IncrementContributions(ctx, userID, result.Summary.Added+result.Summary.Updated); err != nil {
		return nil, apperr.Infra("bulk update shop configs", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("bulk update shop configs", err)
	}
	return result, nil
}

// SyncPayload is a client's full local dataset.
type SyncPayload struct {
	Products []ProductInput  `json:"products"`
	Links    []LinkInput     `json:"links"`
	Prices   []pricing.Input `json:"prices"`
}

// SyncReport summarizes a full sync per entity kind.
type SyncReport struct {
	Products batch.Summary `json:"products"`
	Links    batch.Summary `json:"links"`
	Prices   batch.Summary `json:"prices"`
}

// FullSync pushes a client's entire dataset in one transaction. Products are
// deduplicated by name, links by (product, shop) pair and URL; only the last
// MaxSyncPrices price observations of the payload are taken, on the
// assumption that a full dump is mostly history the server already has.
func (c *Coordinator) FullSync(ctx context.Context, userID string, payload SyncPayload) (*SyncReport, error) {
	if len(payload.Products) == 0 && len(payload.Links) == 0 && len(payload.Prices) == 0 {
		return nil, apperr.Validationf("sync payload is empty")
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("full sync", err)
	}
	defer tx.Rollback()

	report := &SyncReport{}

	report.Products.TotalProcessed = len(payload.Products)
	for _, in := range payload.Products {
		name := strings.TrimSpace(in.Name)
		if len(name) < catalog.MinProductName || len(name) > catalog.MaxProductName {
			report.Products.Skipped++
			continue
		}
		existing, err := tx.ProductByExactMatch(ctx, name, in.EAN)
		if err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		if existing != nil {
			report.Products.Skipped++
			continue
		}
		if _, err := tx.InsertProduct(ctx, name, catalog.NameKey(name), in.EAN, userID); err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		report.Products.Added++
	}

	report.Links.TotalProcessed = len(payload.Links)
	for _, in := range payload.Links {
		if in.ProductID <= 0 || in.ShopID == "" || !validURL(in.URL) {
			report.Links.Skipped++
			continue
		}
		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		if product == nil {
			report.Links.Skipped++
			continue
		}
		if dup, err := tx.LinkByPair(ctx, in.ProductID, in.ShopID); err != nil {
			return nil, apperr.Infra("full sync", err)
		} else if dup != nil {
			report.Links.Skipped++
			continue
		}
		if dup, err := tx.LinkByURL(ctx, in.URL); err != nil {
			return nil, apperr.Infra("full sync", err)
		} else if dup != nil {
			report.Links.Skipped++
			continue
		}
		if _, err := tx.InsertLink(ctx, in.ProductID, in.ShopID, in.URL, userID); err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		report.Links.Added++
	}

	prices := payload.Prices
	report.Prices.TotalProcessed = len(prices)
	if len(prices) > MaxSyncPrices {
		report.Prices.Skipped += len(prices) - MaxSyncPrices
		prices = prices[len(prices)-MaxSyncPrices:]
	}
	for _, in := range prices {
		if in.Currency == "" || !pricing.ValidCurrencies[in.Currency] {
			in.Currency = "PLN"
		}
		if in.PriceType == "" {
			in.PriceType = "scraped"
		}
		if in.Source == "" {
			in.Source = "full_sync"
		}
		if in.ProductID <= 0 || in.ShopID == "" || in.Price <= 0 || in.Price > pricing.MaxPrice {
			report.Prices.Skipped++
			continue
		}
		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		if product == nil {
			report.Prices.Skipped++
			continue
		}
		if _, err := tx.InsertPrice(ctx, store.PriceRecord{
			ProductID: in.ProductID,
			ShopID:    in.ShopID,
			Price:     in.Price,
			Currency:  in.Currency,
			PriceType: in.PriceType,
			URL:       in.URL,
			UserID:    userID,
			Source:    in.Source,
		}); err != nil {
			return nil, apperr.Infra("full sync", err)
		}
		report.Prices.Added++
	}

	added := report.Products.Added + report.Links.Added + report.Prices.Added
	if err := tx.IncrementContributions(ctx, userID, added); err != nil {
		return nil, apperr.Infra("full sync", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("full sync", err)
	}
	return report, nil
}

// Status is a user's sync standing.
type Status struct {
	User          *store.User    `json:"user"`
	Contributions map[string]int `json:"contributions"`
	Recent        []store.Change `json:"recent_activity"`
}

// SyncStatus reports the user's account, per-kind contribution breakdown and
// most recent activity.
func (c *Coordinator) SyncStatus(ctx context.Context, userID string) (*Status, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Infra("sync status", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user", userID)
	}
	breakdown, err := c.store.ContributionBreakdown(ctx, userID)
	if err != nil {
		return nil, apperr.Infra("sync status", err)
	}
	recent, err := c.store.RecentActivityForUser(ctx, userID, 5)
	if err != nil {
		return nil, apperr.Infra("sync status", err)
	}
	if recent == nil {
		recent = []store.Change{}
	}
	return &Status{User: user, Contributions: breakdown, Recent: recent}, nil
}

// DatabaseSummary reports the overall database state.
func (c *Coordinator) DatabaseSummary(ctx context.Context) (*store.Summary, error) {
	summary, err := c.store.DatabaseSummary(ctx)
	if err != nil {
		return nil, apperr.Infra("database summary", err)
	}
	return summary, nil
}

// RecentChanges returns the mutation feed since the given instant, newest
// first, capped at 50 entries.
func (c *Coordinator) RecentChanges(ctx context.Context, since time.Time, limit int) ([]store.Change, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	changes, err := c.store.RecentChanges(ctx, since, limit)
	if err != nil {
		return nil, apperr.Infra("recent changes", err)
	}
	if changes == nil {
		changes = []store.Change{}
	}
	return changes, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
