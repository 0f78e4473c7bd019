package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/platform/logger"
)

func TestListProducts_Success(t *testing.T) {
	catalog := &MockCatalog{products: []domain.Product{
		{ID: "p-milk", Name: "Milk", Price: 50, Stock: 10, Variants: []domain.Variant{{Key: "1L", Price: 90}}},
		{ID: "p-curd", Name: "Curd", Price: 40, Stock: 3},
	}}
	router := newTestRouter(testDeps{catalog: catalog})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/api/v1/products", ""))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
	var resp ProductsResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(resp.Products))
	}
	if resp.Products[0].Variants[0].Price != 90 {
		t.Errorf("expected variant price 90, got %d", resp.Products[0].Variants[0].Price)
	}
}

func TestListProducts_Empty(t *testing.T) {
	router := newTestRouter(testDeps{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/api/v1/products", ""))

	if recorder.Body.String() != "{\"products\":[]}\n" {
		t.Errorf("expected empty products array, got %s", recorder.Body.String())
	}
}

func TestListProducts_ServiceError(t *testing.T) {
	router := newTestRouter(testDeps{catalog: &MockCatalog{err: errors.New("db down")}})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/api/v1/products", ""))

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected %d, got %d", http.StatusInternalServerError, recorder.Code)
	}
}

func TestGetProduct(t *testing.T) {
	router := newTestRouter(testDeps{catalog: &MockCatalog{products: []domain.Product{{ID: "p-milk", Name: "Milk", Price: 50}}}})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/api/v1/products/p-milk", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/api/v1/products/p-none", ""))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected %d, got %d", http.StatusNotFound, recorder.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(testDeps{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("GET", "/health", ""))

	if recorder.Code != http.StatusOK {
		t.Errorf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestIDMiddleware_ReachesLoggerContext(t *testing.T) {
	var seen string
	handler := middleware.RequestID(RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	})))

	req := newRequest("GET", "/health", "")
	req.Header.Set("X-Request-ID", "edge-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if seen != "edge-123" {
		t.Errorf("expected request id edge-123 in context, got %q", seen)
	}
	if got := recorder.Header().Get("X-Request-ID"); got != "edge-123" {
		t.Errorf("expected X-Request-ID edge-123, got %q", got)
	}
}
