package main

import (
	"net/http"
	"strings"
	"time"

	"lexitrend-go/messaging"
	"lexitrend-go/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// publicPaths skip the API key check
var publicPaths = []string{"/", "/health"}

// setupRoutes configures all HTTP routes for the API
func (a *app) setupRoutes(router *mux.Router) {
	router.HandleFunc("/analyze", a.analyzeHandler).Methods(http.MethodGet)
	router.HandleFunc("/analyze/enhanced", a.analyzeEnhancedHandler).Methods(http.MethodGet)

	router.HandleFunc("/message", messaging.HTTPHandler(a.bus))

	router.HandleFunc("/settings", a.settingsHandler)

	// Cache management endpoints
	router.HandleFunc("/cache", a.getCacheDump)
	router.HandleFunc("/cache/backup", a.backupCache)
	router.HandleFunc("/cache/backups", a.listBackups)
	router.HandleFunc("/cache/restore", a.restoreCache)
	router.HandleFunc("/cache/clear", a.clearCache)
	router.HandleFunc("/cache/remove", a.removeCacheKey)

	// Health and stats endpoints
	router.HandleFunc("/health", a.getHealthStatus)
	router.HandleFunc("/stats", a.getStats)

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", a.getCircuitBreakerStatus)
	router.HandleFunc("/circuit-breaker/reset", a.resetCircuitBreaker)

	router.HandleFunc("/", helpHandler)
}

// handler builds the router and wraps it in the middleware chain:
// logging, CORS, rate limiting, then API key authentication.
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	a.setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   splitOrigins(a.conf.Configuration.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders:   []string{"X-Model", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Type", "X-Search-Performed"},
		AllowCredentials: true,
		MaxAge:           int((12 * time.Hour).Seconds()),
	})

	limiter := middleware.NewIPRateLimiter(rate.Limit(a.conf.Configuration.RateLimitPerSecond), a.conf.Configuration.RateLimitBurstLimit)

	var h http.Handler = router
	h = middleware.APIKeyMiddleware(a.conf.Configuration.APIKey, a.conf.FeatureFlags.APIKeyRequired, publicPaths)(h)
	h = middleware.RateLimit(limiter, a.conf.Configuration.APIKey)(h)
	h = c.Handler(h)
	h = middleware.LoggingMiddleware(h)
	return h
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
