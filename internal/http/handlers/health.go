package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check is one dependency probed by the readiness endpoints
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	checks    []Check
	startTime time.Time
	version   string
}

func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse is the readiness body
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Liveness only reports that the process serves requests
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness probes every dependency and reports each result
func (h *HealthHandler) Readiness(c *gin.Context) {
	results, failed := h.probe(c.Request.Context(), 5*time.Second, false)

	status, code := "healthy", http.StatusOK
	if failed != "" {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	})
}

// Health stops at the first failing dependency
func (h *HealthHandler) Health(c *gin.Context) {
	if _, failed := h.probe(c.Request.Context(), 3*time.Second, true); failed != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  failed + " unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

// probe pings the checks under one timeout and returns per-check results plus
// the name of the first failing check, if any.
func (h *HealthHandler) probe(ctx context.Context, timeout time.Duration, stopEarly bool) (map[string]string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	failed := ""
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			results[chk.Name] = "unhealthy: " + err.Error()
			if failed == "" {
				failed = chk.Name
			}
			if stopEarly {
				break
			}
			continue
		}
		results[chk.Name] = "healthy"
	}
	return results, failed
}
