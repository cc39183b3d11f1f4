package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mwalczyk/priceradar/internal/pricing"
)

func (s *Server) handleLatestPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pricing.Filter{
		ProductIDs: queryIDs(q.Get("product_ids")),
		ShopIDs:    queryList(q.Get("shop_ids")),
	}

	prices, err := s.prices.LatestPrices(r.Context(), filter, queryInt(q.Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"prices": prices,
		"count":  len(prices),
	})
}

func (s *Server) handlePricesForProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.prices.PricesForProduct(r.Context(), id, queryInt(r.URL.Query().Get("days")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"product_id": result.ProductID,
		"by_shop":    result.ByShop,
		"all_prices": result.AllPrices,
		"days":       result.Days,
	})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()

	history, err := s.prices.PriceHistory(r.Context(), id, q.Get("shop_id"), queryInt(q.Get("days")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"product_id": id,
		"history":    history,
		"count":      len(history),
	})
}

func (s *Server) handlePriceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.prices.UserStats(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleAddPrice(w http.ResponseWriter, r *http.Request) {
	var in pricing.Input
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	id, err := s.prices.RecordPrice(r.Context(), userID(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleBulkPrices(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Prices []pricing.Input `json:"prices"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.prices.BulkRecordPrices(r.Context(), userID(r), in.Prices)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results": result.Results,
		"summary": result.Summary,
	})
}

// queryIDs parses a comma-separated id list; malformed entries are dropped.
func queryIDs(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// queryList parses a comma-separated string list.
func queryList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
