// ABOUTME: HTTP server struct, constructor, and handler wiring for RiskOps.
// ABOUTME: Mounts the huma JSON API at /api/v1 and the raw webhook receiver at /webhooks/github.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/scarson/riskops/internal/config"
	"github.com/scarson/riskops/internal/store"
)

// Runner is the slice of the analysis pipeline the HTTP layer drives:
// a synchronous run for POST /analyze and a detached one for /reanalyze
// and webhook deliveries.
type Runner interface {
	Run(ctx context.Context, repoURL, mode string) (*store.AnalysisResult, error)
	Dispatch(repoURL, mode string)
}

// Explainer produces a human-readable narrative for an analysis result.
type Explainer interface {
	Explain(ctx context.Context, res *store.AnalysisResult, detail string) (string, error)
}

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	cfg         *config.Config
	runner      Runner
	explainer   Explainer // nil when AI explanation is not configured
	rateLimiter *ipRateLimiter
	webhook     http.Handler
}

// NewServer creates a Server. explainer and webhook may be nil; the
// corresponding routes then degrade (plain fallback text, 404).
func NewServer(st *store.Store, cfg *config.Config, runner Runner, explainer Explainer, webhook http.Handler) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	// 10 analysis triggers per minute, burst of 10.
	rl := newIPRateLimiter(rate.Limit(10.0/60), 10, evictTTL)
	return &Server{
		store:       st,
		cfg:         cfg,
		runner:      runner,
		explainer:   explainer,
		rateLimiter: rl,
		webhook:     webhook,
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit; webhook payloads and analyze requests are small.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.healthzHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Inbound webhooks bypass huma: the handler needs the raw body bytes
	// for HMAC verification before any parsing happens.
	if srv.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/github", srv.webhook)
	}

	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.triggerRateLimit())
	humaConfig := huma.DefaultConfig("RiskOps API", "0.1.0")
	humaConfig.Info.Description = "Dependency and CI/CD workflow risk analysis API"
	api := humachi.New(apiRouter, humaConfig)
	registerAnalysisRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the store is available,
// or 503 {"status":"degraded","store":"unavailable"} when it is not.
func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	statusCode := http.StatusOK

	if srv.store == nil {
		resp.Status = "degraded"
		resp.Store = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
	}
}
