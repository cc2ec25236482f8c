// Package api provides the admin HTTP API for the recipe cache
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/health"
	"github.com/recipeapp/recipecache/pkg/types"
)

// CacheService is the part of the cache the admin API drives
type CacheService interface {
	GetProductionStats() types.ProductionStats
	GetPopularRecipes(ctx context.Context, count int) ([]types.Recipe, error)
	GetRecipesByCategory(ctx context.Context, category string, count int) ([]types.Recipe, error)
	ForceRefreshPopularRecipes(ctx context.Context) ([]types.Recipe, error)
	ForceOptimization(ctx context.Context)
	EmergencyCleanup(ctx context.Context) error
}

// Server provides HTTP API endpoints for monitoring and operating the cache
type Server struct {
	httpServer    *http.Server
	cache         CacheService
	healthTracker *health.Tracker
	metrics       http.Handler
	config        ServerConfig
	logger        *slog.Logger
	now           func() time.Time
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8090")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// defaultRecipeCount is used when a recipe listing has no count parameter.
const defaultRecipeCount = 20

// NewServer creates a new API server. healthTracker and metrics may be nil;
// /metrics is only served when a metrics handler is given.
func NewServer(config ServerConfig, cache CacheService, healthTracker *health.Tracker, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cache:         cache,
		healthTracker: healthTracker,
		metrics:       metrics,
		config:        config,
		logger:        logger.With("component", "api"),
		now:           time.Now,
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Cache endpoints
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/popular", s.handlePopular)
	mux.HandleFunc("/popular/category", s.handlePopularCategory)
	mux.HandleFunc("/optimize", s.handleOptimize)
	mux.HandleFunc("/emergency-cleanup", s.handleEmergencyCleanup)
	mux.HandleFunc("/refresh", s.handleRefresh)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc("/info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	stats := s.cache.GetProductionStats()
	response := map[string]interface{}{
		"status":        "healthy",
		"cache_state":   stats.State,
		"system_health": stats.SystemHealth,
		"timestamp":     s.now(),
	}

	if s.healthTracker == nil {
		response["note"] = "Health tracking not configured"
		s.respondJSON(w, http.StatusOK, response)
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	response["status"] = overallHealth.String()
	response["components"] = len(s.healthTracker.GetAllComponents())

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": s.now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	state := s.cache.GetProductionStats().State
	ready := state == "ready"

	response := map[string]interface{}{
		"cache_state": state,
		"timestamp":   s.now(),
	}
	if s.healthTracker != nil {
		overallHealth := s.healthTracker.GetOverallHealth()
		ready = ready && overallHealth != health.StateUnavailable
		response["status"] = overallHealth.String()
	}
	response["ready"] = ready

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, response)
}

// Cache endpoint handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.cache.GetProductionStats())
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	count, ok := s.countParam(w, r)
	if !ok {
		return
	}

	recipes, err := s.cache.GetPopularRecipes(r.Context(), count)
	if err != nil {
		s.respondCacheError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"recipes": recipes,
		"count":   len(recipes),
	})
}

func (s *Server) handlePopularCategory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	category := r.URL.Query().Get("name")
	if category == "" {
		s.respondError(w, http.StatusBadRequest, "Category name required")
		return
	}
	count, ok := s.countParam(w, r)
	if !ok {
		return
	}

	recipes, err := s.cache.GetRecipesByCategory(r.Context(), category, count)
	if err != nil {
		s.respondCacheError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"recipes":  recipes,
		"count":    len(recipes),
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	s.cache.ForceOptimization(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"optimized": true,
		"stats":     s.cache.GetProductionStats(),
	})
}

func (s *Server) handleEmergencyCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	if err := s.cache.EmergencyCleanup(r.Context()); err != nil {
		s.respondCacheError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleaned": true,
		"stats":   s.cache.GetProductionStats(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	recipes, err := s.cache.ForceRefreshPopularRecipes(r.Context())
	if err != nil {
		s.respondCacheError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": true,
		"count":     len(recipes),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/stats",
		"/popular",
		"/popular/category",
		"/optimize",
		"/emergency-cleanup",
		"/refresh",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "recipecache admin API",
		"timestamp": s.now(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) countParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return defaultRecipeCount, true
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		s.respondError(w, http.StatusBadRequest, "count must be a non-negative integer")
		return 0, false
	}
	return count, true
}

func (s *Server) respondCacheError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cacheErr *cacheerrors.CacheError
	if errors.As(err, &cacheErr) {
		status = cacheErr.HTTPStatus
		if status == 0 {
			status = cacheerrors.GetDefaultHTTPStatus(cacheErr.Code)
		}
		s.respondJSON(w, status, map[string]interface{}{
			"error":     cacheErr.Message,
			"code":      cacheErr.Code,
			"details":   cacheErr.Details,
			"timestamp": s.now(),
		})
		return
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": s.now(),
	})
}
