package planner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

func newTestPlanner(t *testing.T, handler http.HandlerFunc) *Planner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(&Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})
}

func chatResponse(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}
}

func TestPlan_ParsesModelOutput(t *testing.T) {
	p := newTestPlanner(t, chatResponse(
		`{"refined_queries":["red midi dress","crimson dress"],"use_image":false,`+
			`"text_weight":0.7,"top_k":15,"filters":{"color":"red"},"reasoning":"color query"}`))

	res := p.Plan(context.Background(), "something red to wear", nil, false)
	if res.Fallback {
		t.Fatalf("unexpected fallback: %s", res.Reason)
	}
	if len(res.Plan.RefinedQueries) != 2 {
		t.Fatalf("refined queries = %v", res.Plan.RefinedQueries)
	}
	if res.Plan.TextWeight != 0.7 || res.Plan.TopK != 15 {
		t.Errorf("weight/topk = %f/%d", res.Plan.TextWeight, res.Plan.TopK)
	}
	if res.Plan.Filters.Color != "red" {
		t.Errorf("color filter = %q", res.Plan.Filters.Color)
	}
}

func TestPlan_StripsCodeFence(t *testing.T) {
	p := newTestPlanner(t, chatResponse(
		"```json\n{\"refined_queries\":[\"denim jacket\"],\"top_k\":5}\n```"))

	res := p.Plan(context.Background(), "jacket", nil, false)
	if res.Fallback {
		t.Fatalf("unexpected fallback: %s", res.Reason)
	}
	if res.Plan.TopK != 5 {
		t.Errorf("top_k = %d, want 5", res.Plan.TopK)
	}
	// Omitted text_weight falls back to the default split.
	if res.Plan.TextWeight != domain.DefaultTextWeight {
		t.Errorf("text_weight = %f, want default", res.Plan.TextWeight)
	}
}

func TestPlan_FallbackOnGarbage(t *testing.T) {
	p := newTestPlanner(t, chatResponse("sure! here is a great outfit idea"))

	res := p.Plan(context.Background(), "blue coat", nil, true)
	if !res.Fallback {
		t.Fatal("expected fallback for unparsable output")
	}
	if len(res.Plan.RefinedQueries) != 1 || res.Plan.RefinedQueries[0] != "blue coat" {
		t.Errorf("fallback queries = %v", res.Plan.RefinedQueries)
	}
	if !res.Plan.UseImage {
		t.Error("fallback must keep the attached image in play")
	}
	if res.Plan.TopK != domain.DefaultTopK {
		t.Errorf("fallback top_k = %d", res.Plan.TopK)
	}
}

func TestPlan_FallbackOnModelError(t *testing.T) {
	p := newTestPlanner(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	res := p.Plan(context.Background(), "blue coat", nil, false)
	if !res.Fallback {
		t.Fatal("expected fallback when the model call fails")
	}
}

func TestPlan_FallbackOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Stall until the client gives up.
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	p := New(&Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: 30 * time.Millisecond,
		Logger:  zap.NewNop(),
	})

	res := p.Plan(context.Background(), "blue coat", nil, false)
	if !res.Fallback {
		t.Fatal("expected fallback when the model call times out")
	}
	if res.Reason != "model call failed" {
		t.Errorf("reason = %q, want model call failed", res.Reason)
	}
}

func TestPlan_ClampsOutOfRangeValues(t *testing.T) {
	p := newTestPlanner(t, chatResponse(
		`{"refined_queries":["dress"],"text_weight":1.8,"top_k":5000}`))

	res := p.Plan(context.Background(), "dress", nil, false)
	if res.Plan.TopK != domain.MaxTopK {
		t.Errorf("top_k = %d, want clamped to %d", res.Plan.TopK, domain.MaxTopK)
	}
	if res.Plan.TextWeight != 1.0 {
		t.Errorf("text_weight = %f, want clamped to 1.0", res.Plan.TextWeight)
	}
}
