package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is implemented by backends that can report their availability.
type Pinger interface {
	Ping() error
}

// HealthChecker serves liveness and readiness probes.
type HealthChecker struct {
	dependencies map[string]Pinger
}

// NewHealthChecker creates a health checker over named dependencies.
func NewHealthChecker(dependencies map[string]Pinger) *HealthChecker {
	return &HealthChecker{dependencies: dependencies}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always 200 while the process
// serves requests).
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// Readiness checks every registered dependency and reports 503 if any is
// down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(h.dependencies)),
	}
	code := http.StatusOK
	for name, dep := range h.dependencies {
		if err := dep.Ping(); err != nil {
			status.Status = StatusUnhealthy
			status.Dependencies[name] = DependencyStatus{Status: StatusUnhealthy, Message: err.Error()}
			code = http.StatusServiceUnavailable
			continue
		}
		status.Dependencies[name] = DependencyStatus{Status: StatusHealthy}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
