// Package catalog manages the product registry, the product-to-shop link
// graph and per-shop scraping configuration.
package catalog

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/pricing"
	"github.com/mwalczyk/priceradar/internal/store"
)

const (
	MinProductName   = 3
	MaxProductName   = 255
	MaxListLimit     = 1000
	DefaultListLimit = 50
	SearchLimit      = 20
)

// Service exposes catalog operations over the store.
type Service struct {
	store *store.Store
}

// New creates a catalog Service.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// AddProduct registers a product after exact-duplicate screening. The name is
// trimmed before validation; a conflict carries the existing product's id.
func (s *Service) AddProduct(ctx context.Context, userID, name, ean string) (*store.Product, error) {
	name = strings.TrimSpace(name)
	if len(name) < MinProductName || len(name) > MaxProductName {
		return nil, apperr.Validationf("product name must be %d-%d characters", MinProductName, MaxProductName)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("add product", err)
	}
	defer tx.Rollback()

	existing, err := tx.ProductByExactMatch(ctx, name, ean)
	if err != nil {
		return nil, apperr.Infra("add product", err)
	}
	if existing != nil {
		return nil, apperr.Conflictf(existing.ID, "product already exists")
	}

	id, err := tx.InsertProduct(ctx, name, NameKey(name), ean, userID)
	if err != nil {
		return nil, apperr.Infra("add product", err)
	}
	if err := tx.IncrementContributions(ctx, userID, 1); err != nil {
		return nil, apperr.Infra("add product", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("add product", err)
	}

	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, apperr.Infra("add product", err)
	}
	return product, nil
}

// GetProduct returns one product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (*store.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, apperr.Infra("get product", err)
	}
	if product == nil {
		return nil, apperr.NotFound("product", id)
	}
	return product, nil
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Products []store.Product `json:"products"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// ListProducts pages through products, newest first, with an optional
// name/EAN substring filter.
func (s *Service) ListProducts(ctx context.Context, search string, limit, offset int) (*ProductPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.store.ListProducts(ctx, search, limit, offset)
	if err != nil {
		return nil, apperr.Infra("list products", err)
	}
	total, err := s.store.CountProducts(ctx, search)
	if err != nil {
		return nil, apperr.Infra("list products", err)
	}
	if products == nil {
		products = []store.Product{}
	}
	return &ProductPage{Products: products, Total: total, Limit: limit, Offset: offset}, nil
}

// SearchProducts matches by name substring or exact EAN. Terms shorter than
// two characters are rejected to keep the LIKE scan bounded.
func (s *Service) SearchProducts(ctx context.Context, term string) ([]store.Product, error) {
	term = strings.TrimSpace(term)
	if len(term) < 2 {
		return nil, apperr.Validationf("search term must be at least 2 characters")
	}
	products, err := s.store.SearchProducts(ctx, term, SearchLimit)
	if err != nil {
		return nil, apperr.Infra("search products", err)
	}
	if products == nil {
		products = []store.Product{}
	}
	return products, nil
}

// DuplicateReport is the outcome of a pre-insert duplicate check.
type DuplicateReport struct {
	ExactMatch *store.Product  `json:"exact_match"`
	Similar    []store.Product `json:"similar"`
}

// CheckDuplicates screens a candidate name/EAN against existing products:
// exact name or EAN first, then fuzzy matches sharing the folded name key.
func (s *Service) CheckDuplicates(ctx context.Context, name, ean string) (*DuplicateReport, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validationf("product name is required")
	}

	report := &DuplicateReport{Similar: []store.Product{}}

	exact, err := s.store.ProductByExactMatch(ctx, name, ean)
	if err != nil {
		return nil, apperr.Infra("check duplicates", err)
	}
	report.ExactMatch = exact

	similar, err := s.store.ProductsByNameKey(ctx, NameKey(name))
	if err != nil {
		return nil, apperr.Infra("check duplicates", err)
	}
	for _, p := range similar {
		if exact != nil && p.ID == exact.ID {
			continue
		}
		report.Similar = append(report.Similar, p)
	}
	return report, nil
}

// AddLink attaches a shop URL to a product. One link per (product, shop)
// pair; a URL can point at only one product.
func (s *Service) AddLink(ctx context.Context, userID string, productID int64, shopID, rawURL string) (*store.ProductLink, error) {
	if productID <= 0 {
		return nil, apperr.Validationf("valid product_id is required")
	}
	if shopID == "" {
		return nil, apperr.Validationf("shop id is required")
	}
	if !validURL(rawURL) {
		return nil, apperr.Validationf("valid http(s) url is required")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("add link", err)
	}
	defer tx.Rollback()

	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Infra("add link", err)
	}
	if product == nil {
		return nil, apperr.NotFound("product", productID)
	}

	if existing, err := tx.LinkByPair(ctx, productID, shopID); err != nil {
		return nil, apperr.Infra("add link", err)
	} else if existing != nil {
		return nil, apperr.Conflictf(existing.ID, "link already exists for this product and shop")
	}
	if existing, err := tx.LinkByURL(ctx, rawURL); err != nil {
		return nil, apperr.Infra("add link", err)
	} else if existing != nil {
		return nil, apperr.Conflictf(existing.ID, "url already linked to product %d", existing.ProductID)
	}

	if _, err := tx.InsertLink(ctx, productID, shopID, rawURL, userID); err != nil {
		return nil, apperr.Infra("add link", err)
	}
	if err := tx.IncrementContributions(ctx, userID, 1); err != nil {
		return nil, apperr.Infra("add link", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("add link", err)
	}

	link, err := s.store.LinkByPair(ctx, productID, shopID)
	if err != nil {
		return nil, apperr.Infra("add link", err)
	}
	return link, nil
}

// LinkPage is one page of the link listing.
type LinkPage struct {
	Links  []store.ProductLink `json:"links"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListLinks pages through links, newest first, optionally per shop.
func (s *Service) ListLinks(ctx context.Context, shopID string, limit, offset int) (*LinkPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	links, err := s.store.ListLinks(ctx, shopID, limit, offset)
	if err != nil {
		return nil, apperr.Infra("list links", err)
	}
	total, err := s.store.CountLinks(ctx, shopID)
	if err != nil {
		return nil, apperr.Infra("list links", err)
	}
	if links == nil {
		links = []store.ProductLink{}
	}
	return &LinkPage{Links: links, Total: total, Limit: limit, Offset: offset}, nil
}

// LinksForProduct returns a product's links with shop delivery terms.
func (s *Service) LinksForProduct(ctx context.Context, productID int64) ([]store.LinkDetail, error) {
	if productID <= 0 {
		return nil, apperr.Validationf("valid product_id is required")
	}
	links, err := s.store.LinksForProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Infra("links for product", err)
	}
	if links == nil {
		links = []store.LinkDetail{}
	}
	return links, nil
}

// LinksByShop aggregates link counts per shop.
func (s *Service) LinksByShop(ctx context.Context) ([]store.ShopLinkStats, error) {
	stats, err := s.store.LinksByShop(ctx)
	if err != nil {
		return nil, apperr.Infra("links by shop", err)
	}
	if stats == nil {
		stats = []store.ShopLinkStats{}
	}
	return stats, nil
}

// ShopConfigInput is a shop configuration submission. Selector and search
// blobs are taken verbatim.
type ShopConfigInput struct {
	LocalID          any             `json:"local_id,omitempty"`
	ShopID           string          `json:"shop_id"`
	Name             string          `json:"name"`
	PriceSelectors   json.RawMessage `json:"price_selectors"`
	DeliveryFreeFrom *float64        `json:"delivery_free_from"`
	DeliveryCost     *float64        `json:"delivery_cost"`
	Currency         string          `json:"currency"`
	SearchConfig     json.RawMessage `json:"search_config"`
}

// UpsertShopConfig creates or replaces a shop's configuration. Unlike the
// bulk path, an unknown currency is rejected here.
func (s *Service) UpsertShopConfig(ctx context.Context, userID string, in ShopConfigInput) (string, *store.ShopConfig, error) {
	if in.ShopID == "" {
		return "", nil, apperr.Validationf("shop id is required")
	}
	if in.Currency == "" {
		in.Currency = "PLN"
	}
	if !pricing.ValidCurrencies[in.Currency] {
		return "", nil, apperr.Validationf("currency must be PLN, EUR or USD")
	}
	if in.Name == "" {
		in.Name = in.ShopID
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", nil, apperr.Infra("upsert shop config", err)
	}
	defer tx.Rollback()

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
		return "", nil, apperr.Infra("upsert shop config", err)
	}
	if err := tx.IncrementContributions(ctx, userID, 1); err != nil {
		return "", nil, apperr.Infra("upsert shop config", err)
	}
	if err := tx.Commit(); err != nil {
		return "", nil, apperr.Infra("upsert shop config", err)
	}

	cfg, err := s.store.GetShopConfig(ctx, in.ShopID)
	if err != nil {
		return "", nil, apperr.Infra("upsert shop config", err)
	}
	return action, cfg, nil
}

// GetShopConfig returns one shop's configuration.
func (s *Service) GetShopConfig(ctx context.Context, shopID string) (*store.ShopConfig, error) {
	cfg, err := s.store.GetShopConfig(ctx, shopID)
	if err != nil {
		return nil, apperr.Infra("get shop config", err)
	}
	if cfg == nil {
		return nil, apperr.NotFound("shop config", shopID)
	}
	return cfg, nil
}

// ListShopConfigs returns all configs, optionally only those modified after
// the given instant.
func (s *Service) ListShopConfigs(ctx context.Context, modifiedSince time.Time) ([]store.ShopConfig, error) {
	configs, err := s.store.ListShopConfigs(ctx, modifiedSince)
	if err != nil {
		return nil, apperr.Infra("list shop configs", err)
	}
	if configs == nil {
		configs = []store.ShopConfig{}
	}
	return configs, nil
}

// builtinSelectors are fallback CSS selectors for shops without a stored
// config.
var builtinSelectors = map[string]json.RawMessage{
	"allegro": json.RawMessage(`{"price":["[data-testid='price-value']",".price","[itemprop='price']"],"title":["h1[itemprop='name']","h1"]}`),
	"amazon":  json.RawMessage(`{"price":["#priceblock_ourprice",".a-price .a-offscreen","#corePrice_feature_div .a-offscreen"],"title":["#productTitle"]}`),
	"doz":     json.RawMessage(`{"price":[".product-price__price","[data-price]"],"title":["h1.product-name","h1"]}`),
}

var genericSelectors = json.RawMessage(`{"price":["[itemprop='price']",".price",".product-price"],"title":["h1"]}`)

// ShopSelectors returns the scraping selectors for a shop: the stored config
// when present and non-empty, a built-in set for known shops, a generic
// fallback otherwise. The source field tells the caller which one it got.
func (s *Service) ShopSelectors(ctx context.Context, shopID string) (json.RawMessage, string, error) {
	if shopID == "" {
		return nil, "", apperr.Validationf("shop id is required")
	}

	cfg, err := s.store.GetShopConfig(ctx, shopID)
	if err != nil {
		return nil, "", apperr.Infra("shop selectors", err)
	}
	if cfg != nil && len(cfg.PriceSelectors) > 0 && string(cfg.PriceSelectors) != "{}" {
		return cfg.PriceSelectors, "database", nil
	}
	if selectors, ok := builtinSelectors[shopID]; ok {
		return selectors, "builtin", nil
	}
	return genericSelectors, "generic", nil
}

// validURL accepts absolute http(s) URLs with a host.
func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
