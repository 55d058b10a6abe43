package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
	"github.com/JugalBoro/kloth.me/internal/planner"
	"github.com/JugalBoro/kloth.me/internal/version"
)

// maxUploadBytes bounds the multipart search request body.
const maxUploadBytes = 10 << 20

// Searcher is the retrieval surface the API exposes.
type Searcher interface {
	SearchByText(ctx context.Context, queries []string, topK int, filters domain.FilterSet) ([]domain.RankedResult, error)
	SearchByImage(ctx context.Context, image []byte, topK int, filters domain.FilterSet) ([]domain.RankedResult, error)
	MergeResults(ctx context.Context, textResults, imageResults []domain.RankedResult, textWeight float64) ([]domain.RankedResult, error)
}

// Planner turns the raw shopper message into a retrieval plan.
type Planner interface {
	Plan(ctx context.Context, message string, history []string, hasImage bool) planner.Result
}

// Pinger checks one dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API over the retrieval engine.
type Server struct {
	search        Searcher
	planner       Planner
	checks        map[string]Pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. checks maps dependency name to its
// health probe.
func NewServer(search Searcher, plan Planner, checks map[string]Pinger, logger *zap.Logger) *Server {
	s := &Server{
		search:  search,
		planner: plan,
		checks:  checks,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"),
		sentinelHandler(domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrVectorIndex, http.StatusServiceUnavailable, "vector_index_error"),
		sentinelHandler(domain.ErrProductStore, http.StatusServiceUnavailable, "product_store_error"),
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/", s.handleRoot)
	r.Post("/api/search", s.handleSearch)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// handleRoot handles GET /.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": version.Service,
		"version": version.Version,
	})
}

// PlanInfo echoes the executed plan back to the client for debugging.
type PlanInfo struct {
	RefinedQueries []string         `json:"refined_queries"`
	UseImage       bool             `json:"use_image"`
	TextWeight     float64          `json:"text_weight"`
	TopK           int              `json:"top_k"`
	Filters        domain.FilterSet `json:"filters,omitempty"`
	Reasoning      string           `json:"reasoning,omitempty"`
	Fallback       bool             `json:"fallback,omitempty"`
}

// SearchResponse is the POST /api/search payload.
type SearchResponse struct {
	Results []domain.RankedResult `json:"results"`
	Plan    PlanInfo              `json:"plan"`
}

// handleSearch handles POST /api/search: multipart form with a text message,
// an optional image upload and optional chat history.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body: "+err.Error())
		return
	}

	message := r.FormValue("message")
	image, err := readImagePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if message == "" && len(image) == 0 {
		s.handleDomainError(w, domain.ErrInvalidInput)
		return
	}

	history, err := parseHistory(r.FormValue("chat_history"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	plan := s.planner.Plan(ctx, message, history, len(image) > 0)

	results, err := s.runPlan(ctx, plan.Plan, message, image)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Plan: PlanInfo{
			RefinedQueries: plan.Plan.RefinedQueries,
			UseImage:       plan.Plan.UseImage,
			TextWeight:     plan.Plan.TextWeight,
			TopK:           plan.Plan.TopK,
			Filters:        plan.Plan.Filters,
			Reasoning:      plan.Plan.Reasoning,
			Fallback:       plan.Fallback,
		},
	})
}

// runPlan executes the per-modality searches the plan calls for and fuses
// them when both ran.
func (s *Server) runPlan(
	ctx context.Context, plan domain.QueryPlan, message string, image []byte,
) ([]domain.RankedResult, error) {
	var textResults, imageResults []domain.RankedResult
	var err error

	if message != "" && len(plan.RefinedQueries) > 0 {
		textResults, err = s.search.SearchByText(ctx, plan.RefinedQueries, plan.TopK, plan.Filters)
		if err != nil {
			return nil, err
		}
	}
	useImage := plan.UseImage && len(image) > 0
	if useImage {
		imageResults, err = s.search.SearchByImage(ctx, image, plan.TopK, plan.Filters)
		if err != nil {
			return nil, err
		}
	}

	if textResults != nil && useImage {
		merged, err := s.search.MergeResults(ctx, textResults, imageResults, plan.TextWeight)
		if err != nil {
			return nil, err
		}
		if len(merged) > plan.TopK {
			merged = merged[:plan.TopK]
		}
		return merged, nil
	}
	if useImage {
		return imageResults, nil
	}
	return textResults, nil
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, p := range s.checks {
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = "unhealthy"
			healthy = false
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		checks[name] = "healthy"
	}

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func readImagePart(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("invalid image upload: " + err.Error())
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("read image upload: " + err.Error())
	}
	return data, nil
}

func parseHistory(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var history []string
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, errors.New("chat_history must be a JSON string array")
	}
	return history, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrProductNotFound,
		domain.ErrEmbeddingProvider,
		domain.ErrVectorIndex,
		domain.ErrProductStore,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
