package server

import (
	"net/http"
	"strconv"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/ingest"
)

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
		EAN  string `json:"ean"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := s.catalog.AddProduct(r.Context(), userID(r), in.Name, in.EAN)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"product": product})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	product, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"product": product})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.catalog.ListProducts(r.Context(), q.Get("search"), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"products": page.Products,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
		"has_more": page.Offset+len(page.Products) < page.Total,
	})
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"products": products,
		"count":    len(products),
	})
}

func (s *Server) handleCheckDuplicates(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
		EAN  string `json:"ean"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	report, err := s.catalog.CheckDuplicates(r.Context(), in.Name, in.EAN)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"exact_match":   report.ExactMatch,
		"similar":       report.Similar,
		"has_duplicate": report.ExactMatch != nil || len(report.Similar) > 0,
	})
}

func (s *Server) handleBulkProducts(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Products []ingest.ProductInput `json:"products"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.ingest.BulkAddProducts(r.Context(), userID(r), in.Products)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results": result.Results,
		"summary": result.Summary,
	})
}

// pathID parses the {id} path segment as a product/link row id.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("valid numeric id is required")
	}
	return id, nil
}

// queryInt parses an optional numeric query parameter; 0 means absent.
func queryInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
