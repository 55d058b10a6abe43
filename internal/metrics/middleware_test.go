package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware_RecordsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/search", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath(""); got != "unmatched" {
		t.Errorf("normalizePath(\"\") = %q, want \"unmatched\"", got)
	}
	if got := normalizePath("/api/search"); got != "/api/search" {
		t.Errorf("normalizePath = %q, want /api/search", got)
	}
}
