package api

import (
	"net/http"
	"time"

	"github.com/ignite/catalog-enricher/internal/pkg/httputil"
)

// HealthStatus is the liveness payload.
type HealthStatus struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	ActiveJobs int64  `json:"active_jobs"`
	Timestamp  string `json:"timestamp"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, HealthStatus{
		Status:     "healthy",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		ActiveJobs: h.jobs.Active(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
