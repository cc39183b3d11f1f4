package server

import (
	"net/http"
	"time"

	"github.com/mwalczyk/priceradar/internal/catalog"
)

func (s *Server) handleListShopConfigs(w http.ResponseWriter, r *http.Request) {
	var modifiedSince time.Time
	if raw := r.URL.Query().Get("modified_since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			modifiedSince = t
		}
	}

	configs, err := s.catalog.ListShopConfigs(r.Context(), modifiedSince)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"shops": configs,
		"count": len(configs),
	})
}

func (s *Server) handleGetShopConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.catalog.GetShopConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"config": cfg})
}

func (s *Server) handleShopSelectors(w http.ResponseWriter, r *http.Request) {
	shopID := r.PathValue("id")
	selectors, source, err := s.catalog.ShopSelectors(r.Context(), shopID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"shop_id":   shopID,
		"selectors": selectors,
		"source":    source,
	})
}

func (s *Server) handleUpsertShopConfig(w http.ResponseWriter, r *http.Request) {
	var in catalog.ShopConfigInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	action, cfg, err := s.catalog.UpsertShopConfig(r.Context(), userID(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"action": action,
		"config": cfg,
	})
}

func (s *Server) handleBulkShopConfigs(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Shops []catalog.ShopConfigInput `json:"shops"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.ingest.BulkUpdateShopConfigs(r.Context(), userID(r), in.Shops)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results": result.Results,
		"summary": result.Summary,
	})
}
