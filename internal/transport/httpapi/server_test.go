package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
	"github.com/JugalBoro/kloth.me/internal/planner"
)

type mockSearcher struct {
	textResults  []domain.RankedResult
	imageResults []domain.RankedResult
	textErr      error
	imageErr     error
	mergeWeight  float64
	mergeCalled  bool
	textQueries  []string
}

func (m *mockSearcher) SearchByText(
	_ context.Context, queries []string, _ int, _ domain.FilterSet,
) ([]domain.RankedResult, error) {
	m.textQueries = queries
	return m.textResults, m.textErr
}

func (m *mockSearcher) SearchByImage(
	_ context.Context, _ []byte, _ int, _ domain.FilterSet,
) ([]domain.RankedResult, error) {
	return m.imageResults, m.imageErr
}

func (m *mockSearcher) MergeResults(
	_ context.Context, textResults, imageResults []domain.RankedResult, textWeight float64,
) ([]domain.RankedResult, error) {
	m.mergeCalled = true
	m.mergeWeight = textWeight
	out := append([]domain.RankedResult{}, textResults...)
	return append(out, imageResults...), nil
}

type mockPlanner struct {
	result planner.Result
}

func (m *mockPlanner) Plan(_ context.Context, message string, _ []string, hasImage bool) planner.Result {
	if len(m.result.Plan.RefinedQueries) == 0 {
		m.result.Plan.RefinedQueries = []string{message}
	}
	m.result.Plan.UseImage = hasImage
	m.result.Plan.Clamp()
	return m.result
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

func newTestServer(search Searcher, plan Planner, checks map[string]Pinger) *chi.Mux {
	s := NewServer(search, plan, checks, zap.NewNop())
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "query.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func doSearch(t *testing.T, r http.Handler, fields map[string]string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, image)
	req := httptest.NewRequest(http.MethodPost, "/api/search", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSearch_TextOnly(t *testing.T) {
	search := &mockSearcher{textResults: []domain.RankedResult{
		{ProductID: "p1", Description: "red dress", Score: 0.9},
	}}
	r := newTestServer(search, &mockPlanner{}, nil)

	rec := doSearch(t, r, map[string]string{"message": "red dress"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ProductID != "p1" {
		t.Errorf("results = %+v", resp.Results)
	}
	if len(search.textQueries) != 1 || search.textQueries[0] != "red dress" {
		t.Errorf("queries passed to engine = %v", search.textQueries)
	}
	if search.mergeCalled {
		t.Error("merge must not run for a text-only request")
	}
}

func TestSearch_CombinedMergesWithPlanWeight(t *testing.T) {
	search := &mockSearcher{
		textResults:  []domain.RankedResult{{ProductID: "p1", Score: 0.9}},
		imageResults: []domain.RankedResult{{ProductID: "p2", Score: 0.8}},
	}
	plan := &mockPlanner{result: planner.Result{
		Plan: domain.QueryPlan{TextWeight: 0.3, TopK: 10},
	}}
	r := newTestServer(search, plan, nil)

	rec := doSearch(t, r, map[string]string{"message": "like this but red"}, []byte{0xFF, 0xD8})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !search.mergeCalled {
		t.Fatal("expected merge for text+image request")
	}
	if search.mergeWeight != 0.3 {
		t.Errorf("merge weight = %f, want 0.3", search.mergeWeight)
	}
}

func TestSearch_NoInput(t *testing.T) {
	r := newTestServer(&mockSearcher{}, &mockPlanner{}, nil)

	rec := doSearch(t, r, map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("invalid_input")) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSearch_SentinelStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"embedding provider", fmt.Errorf("embed: %w", domain.ErrEmbeddingProvider), http.StatusBadGateway},
		{"vector index", fmt.Errorf("query: %w", domain.ErrVectorIndex), http.StatusServiceUnavailable},
		{"product store", fmt.Errorf("fetch: %w", domain.ErrProductStore), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestServer(&mockSearcher{textErr: tt.err}, &mockPlanner{}, nil)

			rec := doSearch(t, r, map[string]string{"message": "dress"}, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.name == "unknown" && !bytes.Contains(rec.Body.Bytes(), []byte("internal error")) {
				t.Errorf("internal details leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestSearch_BadChatHistory(t *testing.T) {
	r := newTestServer(&mockSearcher{}, &mockPlanner{}, nil)

	rec := doSearch(t, r, map[string]string{
		"message":      "dress",
		"chat_history": "not json",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearch_PlanEchoed(t *testing.T) {
	plan := &mockPlanner{result: planner.Result{
		Plan:     domain.QueryPlan{RefinedQueries: []string{"a", "b"}, TopK: 7, TextWeight: 0.6},
		Fallback: true,
		Reason:   "model call failed",
	}}
	r := newTestServer(&mockSearcher{}, plan, nil)

	rec := doSearch(t, r, map[string]string{"message": "dress"}, nil)
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Plan.Fallback {
		t.Error("fallback flag not echoed")
	}
	if resp.Plan.TopK != 7 {
		t.Errorf("top_k = %d, want 7", resp.Plan.TopK)
	}
}

func TestRoot(t *testing.T) {
	r := newTestServer(&mockSearcher{}, &mockPlanner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"service":"kloth.me"`)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := newTestServer(&mockSearcher{}, &mockPlanner{}, map[string]Pinger{
			"redis":  &mockPinger{},
			"qdrant": &mockPinger{},
		})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		r := newTestServer(&mockSearcher{}, &mockPlanner{}, map[string]Pinger{
			"redis":  &mockPinger{},
			"qdrant": &mockPinger{err: errors.New("connection refused")},
		})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
		if !bytes.Contains(rec.Body.Bytes(), []byte(`"qdrant":"unhealthy"`)) {
			t.Errorf("body = %s", rec.Body.String())
		}
	})
}
