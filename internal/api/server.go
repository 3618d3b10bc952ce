// ABOUTME: HTTP API for submitting tasks to the expert council and reading the ledger
// ABOUTME: chi router with health, metrics, bearer-authenticated task, reset and history routes

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-council/internal/auth"
	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/store"
)

// Frontend is the owner-key namespace of API callers.
const Frontend = "api"

// Options configures a Server.
type Options struct {
	Service  *council.Service
	Verifier auth.TokenVerifier
	// Ledger backs the history routes; nil disables them.
	Ledger store.Ledger
	// Gatherer backs the metrics route; nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// BaseContext scopes task runs. Runs outlive the request that started them
	// and stop only when this context is cancelled.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Server serves the council over HTTP.
type Server struct {
	svc      *council.Service
	verifier auth.TokenVerifier
	ledger   store.Ledger
	gatherer prometheus.Gatherer
	metrics  string
	baseCtx  context.Context
	logger   *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Server{
		svc:      opts.Service,
		verifier: opts.Verifier,
		ledger:   opts.Ledger,
		gatherer: opts.Gatherer,
		metrics:  metricsPath,
		baseCtx:  baseCtx,
		logger:   logger.With("component", "api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle(s.metrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s.verifier, s.logger))
		r.Get("/team", s.handleTeam)
		r.Post("/tasks", s.handleSubmit)
		r.Delete("/session", s.handleReset)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// owner maps the authenticated subject to its gate key.
func owner(r *http.Request) string {
	a := auth.FromContext(r.Context())
	if a == nil {
		return ""
	}
	return council.OwnerKey(Frontend, a.Subject)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
