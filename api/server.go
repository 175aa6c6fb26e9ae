// Package api exposes the engine over HTTP: rule management, manual
// classification actions, scans, and governance state reads.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/lifecycle"
	"github.com/opencatalog/piiguard/metrics"
	"github.com/opencatalog/piiguard/rules"
	"github.com/opencatalog/piiguard/scan"
)

// Server serves the engine's HTTP API.
type Server struct {
	router       chi.Router
	registry     *rules.Registry
	lifecycle    *lifecycle.Synchronizer
	orchestrator *scan.Orchestrator
	store        *govstore.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewServer wires routes over the engine components.
func NewServer(registry *rules.Registry, sync *lifecycle.Synchronizer, orchestrator *scan.Orchestrator, store *govstore.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:     registry,
		lifecycle:    sync,
		orchestrator: orchestrator,
		store:        store,
		metrics:      m,
		logger:       logger,
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/quality/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Route("/{ruleID}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/enable", s.handleEnableRule)
				r.Post("/disable", s.handleDisableRule)
			})
		})

		r.Post("/classify", s.handleClassify)
		r.Post("/unclassify", s.handleUnclassify)
		r.Post("/scan", s.handleScan)
		r.Post("/cleanup", s.handleCleanup)

		r.Get("/classifications", s.handleListClassifications)
		r.Get("/issues", s.handleListIssues)
		r.Get("/exclusions", s.handleListExclusions)
		r.Delete("/exclusions", s.handleRemoveExclusion)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// envelope is the response wrapper used by all /api endpoints.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: false, Error: message})
}
