package server

import (
	"net/http"

	"github.com/mwalczyk/priceradar/internal/ingest"
)

func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProductID int64  `json:"product_id"`
		ShopID    string `json:"shop_id"`
		URL       string `json:"url"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	link, err := s.catalog.AddLink(r.Context(), userID(r), in.ProductID, in.ShopID, in.URL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"link": link})
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.catalog.ListLinks(r.Context(), q.Get("shop_id"), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"links":    page.Links,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
		"has_more": page.Offset+len(page.Links) < page.Total,
	})
}

func (s *Server) handleLinksForProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	links, err := s.catalog.LinksForProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"product_id": id,
		"links":      links,
		"count":      len(links),
	})
}

func (s *Server) handleLinksByShop(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.LinksByShop(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"shops": stats,
		"count": len(stats),
	})
}

func (s *Server) handleBulkLinks(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Links []ingest.LinkInput `json:"links"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.ingest.BulkAddLinks(r.Context(), userID(r), in.Links)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results": result.Results,
		"summary": result.Summary,
	})
}
