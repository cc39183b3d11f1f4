// Package server provides the HTTP API. All /api/v1 routes require a
// contributor token; every response carries the success/timestamp envelope.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwalczyk/priceradar/internal/catalog"
	"github.com/mwalczyk/priceradar/internal/config"
	"github.com/mwalczyk/priceradar/internal/ingest"
	"github.com/mwalczyk/priceradar/internal/pricing"
	"github.com/mwalczyk/priceradar/internal/ratelimit"
	"github.com/mwalczyk/priceradar/internal/store"
	"github.com/mwalczyk/priceradar/internal/substitute"
)

// Server wires the services behind the HTTP API.
type Server struct {
	store       *store.Store
	catalog     *catalog.Service
	substitutes *substitute.Manager
	prices      *pricing.Aggregator
	ingest      *ingest.Coordinator
	limiter     *ratelimit.Limiter
	log         *slog.Logger

	port        int
	origins     []string
	logRequests bool
}

// New creates a Server over the shared store.
func New(s *store.Store, cfg *config.Config, log *slog.Logger) *Server {
	srv := &Server{
		store:       s,
		catalog:     catalog.New(s),
		substitutes: substitute.New(s),
		prices:      pricing.New(s),
		ingest:      ingest.New(s),
		log:         log,
		port:        cfg.Server.Port,
		origins:     cfg.Server.AllowedOrigins,
		logRequests: cfg.Logging.Requests,
	}
	if cfg.RateLimit.Enabled {
		srv.limiter = ratelimit.New(cfg.RateLimit.RequestsPerHour)
	}
	return srv
}

// Handler builds the full route table. Exposed separately so tests can drive
// the API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	api := http.NewServeMux()

	api.HandleFunc("POST /api/v1/products", s.handleAddProduct)
	api.HandleFunc("GET /api/v1/products", s.handleListProducts)
	api.HandleFunc("GET /api/v1/products/search", s.handleSearchProducts)
	api.HandleFunc("POST /api/v1/products/check-duplicates", s.handleCheckDuplicates)
	api.HandleFunc("POST /api/v1/products/bulk", s.handleBulkProducts)
	api.HandleFunc("GET /api/v1/products/{id}", s.handleGetProduct)

	api.HandleFunc("POST /api/v1/links", s.handleAddLink)
	api.HandleFunc("GET /api/v1/links", s.handleListLinks)
	api.HandleFunc("GET /api/v1/links/by-shop", s.handleLinksByShop)
	api.HandleFunc("POST /api/v1/links/bulk", s.handleBulkLinks)
	api.HandleFunc("GET /api/v1/links/for-product/{id}", s.handleLinksForProduct)

	api.HandleFunc("GET /api/v1/prices/latest", s.handleLatestPrices)
	api.HandleFunc("GET /api/v1/prices/for-product/{id}", s.handlePricesForProduct)
	api.HandleFunc("GET /api/v1/prices/history/{id}", s.handlePriceHistory)
	api.HandleFunc("GET /api/v1/prices/stats", s.handlePriceStats)
	api.HandleFunc("POST /api/v1/prices", s.handleAddPrice)
	api.HandleFunc("POST /api/v1/prices/bulk", s.handleBulkPrices)

	api.HandleFunc("GET /api/v1/shops", s.handleListShopConfigs)
	api.HandleFunc("POST /api/v1/shops/config", s.handleUpsertShopConfig)
	api.HandleFunc("POST /api/v1/shops/bulk", s.handleBulkShopConfigs)
	api.HandleFunc("GET /api/v1/shops/{id}/config", s.handleGetShopConfig)
	api.HandleFunc("GET /api/v1/shops/{id}/selectors", s.handleShopSelectors)

	api.HandleFunc("GET /api/v1/substitutes", s.handleListGroups)
	api.HandleFunc("POST /api/v1/substitutes", s.handleCreateGroup)
	api.HandleFunc("POST /api/v1/substitutes/bulk", s.handleBulkGroups)
	api.HandleFunc("GET /api/v1/substitutes/for-product/{id}", s.handleSubstitutesForProduct)
	api.HandleFunc("GET /api/v1/substitutes/group/{id}", s.handleGetGroup)
	api.HandleFunc("DELETE /api/v1/substitutes/group/{id}", s.handleDeleteGroup)

	api.HandleFunc("GET /api/v1/sync/status", s.handleSyncStatus)
	api.HandleFunc("GET /api/v1/sync/summary", s.handleSyncSummary)
	api.HandleFunc("GET /api/v1/sync/changes", s.handleSyncChanges)
	api.HandleFunc("POST /api/v1/sync/full", s.handleFullSync)

	mux.Handle("/api/v1/", s.withIdentity(api))

	return s.withLogging(s.withCORS(mux))
}

// ListenAndServe starts the HTTP server and blocks.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.log.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

const version = "1.0.0"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health check", "error", err)
		s.respond(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"version": version,
		})
		return
	}

	counts, err := s.store.TableCounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
		"tables":  counts,
	})
}
