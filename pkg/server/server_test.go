package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwalczyk/priceradar/internal/config"
	"github.com/mwalczyk/priceradar/internal/store"
)

const testToken = "USR-ABCDEF123456-20240101"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Logging.Requests = false
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, cfg, log).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("X-User-ID", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthNeedsNoToken(t *testing.T) {
	h := newTestHandler(t)

	rec, body := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["success"] != true || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if body["timestamp"] == nil {
		t.Error("envelope missing timestamp")
	}
}

func TestAuthentication(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong prefix", "ABC-ABCDEF123456-20240101"},
		{"lowercase", "usr-abcdef123456-20240101"},
		{"short body", "USR-ABC-20240101"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := doJSON(t, h, http.MethodGet, "/api/v1/products", tc.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if body["success"] != false {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestTokenViaQueryParam(t *testing.T) {
	h := newTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/products?user_id="+testToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProductLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/products", testToken,
		map[string]string{"name": "Mleko Łaciate 3.2%", "ean": "5900820000011"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %v", rec.Code, body)
	}
	product := body["product"].(map[string]any)
	id := int64(product["id"].(float64))
	if product["name"] != "Mleko Łaciate 3.2%" {
		t.Errorf("product = %v", product)
	}

	// Duplicate returns 409 with the existing id in the envelope.
	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/products", testToken,
		map[string]string{"name": "Mleko Łaciate 3.2%"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if int64(body["existing_id"].(float64)) != id {
		t.Errorf("existing_id = %v, want %d", body["existing_id"], id)
	}

	rec, body = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", id), testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/products/99999", testToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing product status = %d", rec.Code)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/products", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("total = %v", body["total"])
	}
}

func TestBulkPricesEndpoint(t *testing.T) {
	h := newTestHandler(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/products", testToken,
		map[string]string{"name": "Chleb żytni"})
	id := int64(body["product"].(map[string]any)["id"].(float64))

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/prices/bulk", testToken, map[string]any{
		"prices": []map[string]any{
			{"local_id": "ok", "product_id": id, "shop_id": "lidl", "price": 5.49},
			{"local_id": "bad", "product_id": id, "shop_id": "lidl", "price": 0},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk status = %d: %v", rec.Code, body)
	}
	summary := body["summary"].(map[string]any)
	if summary["added"].(float64) != 1 || summary["skipped"].(float64) != 1 {
		t.Errorf("summary = %v", summary)
	}

	// Invalid single-item price is a 400, not a partial result.
	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/prices", testToken,
		map[string]any{"product_id": id, "shop_id": "lidl", "price": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("single invalid price status = %d, want 400", rec.Code)
	}
}

func TestLinksByShopEndpoint(t *testing.T) {
	h := newTestHandler(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/v1/products", testToken,
		map[string]string{"name": "Masło Extra"})
	id := int64(body["product"].(map[string]any)["id"].(float64))

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/links", testToken,
		map[string]any{"product_id": id, "shop_id": "biedronka", "url": "https://biedronka.pl/maslo"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add link status = %d", rec.Code)
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/links/by-shop", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("by-shop status = %d: %v", rec.Code, body)
	}
	shops := body["shops"].([]any)
	if len(shops) != 1 {
		t.Fatalf("got %d shops, want 1", len(shops))
	}
	shop := shops[0].(map[string]any)
	if shop["shop_id"] != "biedronka" || shop["links_count"].(float64) != 1 {
		t.Errorf("shop = %v", shop)
	}
	if shop["last_added"] == nil || shop["last_added"] == "" {
		t.Errorf("last_added missing: %v", shop)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5000" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSyncStatus(t *testing.T) {
	h := newTestHandler(t)

	// First authenticated call registers the user, so status works right away.
	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/sync/status", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, body)
	}
	user := body["user"].(map[string]any)
	if user["user_id"] != testToken {
		t.Errorf("user = %v", user)
	}
}
