package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"crm-sync-platform/internal/database"
	"crm-sync-platform/internal/services"
)

// HealthCheckFunc reports a component's health; nil means healthy
type HealthCheckFunc func(ctx context.Context) error

// ComponentHealth is the outcome of one component check
type ComponentHealth struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Critical  bool   `json:"critical"`
}

// IsHealthy reports whether the component passed its check
func (c *ComponentHealth) IsHealthy() bool {
	return c.Status == "healthy"
}

type healthCheck struct {
	check    HealthCheckFunc
	critical bool
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks map[string]healthCheck
	mutex  sync.RWMutex
}

// NewHealthHandler creates a new health handler. The database is a critical
// component; the redis cache only degrades lookups when it is down.
func NewHealthHandler(db *database.Connection, cache *services.CacheService) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]healthCheck)}

	if db != nil {
		h.RegisterHealthCheck("database", true, func(ctx context.Context) error {
			return db.Ping()
		})
	}
	if cache != nil && cache.Enabled() {
		h.RegisterHealthCheck("cache", false, cache.Ping)
	}

	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Components map[string]*ComponentHealth `json:"components"`
}

// RegisterHealthCheck adds or replaces a component check
func (h *HealthHandler) RegisterHealthCheck(component string, critical bool, check HealthCheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[component] = healthCheck{check: check, critical: critical}
}

// HandleHealthCheck handles the main health check endpoint
func (h *HealthHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	components := h.runChecks(r.Context())

	overallStatus := "healthy"
	for _, component := range components {
		if !component.IsHealthy() {
			if component.Critical {
				overallStatus = "unhealthy"
				break
			}
			overallStatus = "degraded"
		}
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

// HandleLivenessProbe handles Kubernetes liveness probe
func (h *HealthHandler) HandleLivenessProbe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleReadinessProbe reports ready only when every critical component is healthy
func (h *HealthHandler) HandleReadinessProbe(w http.ResponseWriter, r *http.Request) {
	for _, component := range h.runChecks(r.Context()) {
		if component.Critical && !component.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service Unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]*ComponentHealth {
	h.mutex.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]healthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mutex.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	components := make(map[string]*ComponentHealth, len(names))
	for _, name := range names {
		component := &ComponentHealth{
			Component: name,
			Status:    "healthy",
			Critical:  checks[name].critical,
		}
		if err := checks[name].check(ctx); err != nil {
			component.Status = "unhealthy"
			component.Message = err.Error()
		}
		components[name] = component
	}
	return components
}
