package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Version     string           `json:"version"`
	Instance    string           `json:"instance,omitempty"`
	Checks      map[string]Check `json:"checks"`
	Subscribers map[string]int   `json:"subscribers"`
	Capacity    map[string]int   `json:"capacity"` // ring size per channel
	Timestamp   string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func runCheck(ctx context.Context, p pinger) Check {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health handles the health check endpoint. Redis is optional and only
// checked when configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	if h.store != nil {
		checks["store"] = runCheck(ctx, h.store)
	}
	if h.redis != nil {
		checks["redis"] = runCheck(ctx, h.redis)
	}

	allHealthy := true
	for _, c := range checks {
		if c.Status != "pass" {
			allHealthy = false
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:      status,
		Version:     version,
		Instance:    os.Getenv("HOSTNAME"),
		Checks:      checks,
		Subscribers: h.subscriberCounts(),
		Capacity:    h.channelCapacities(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) subscriberCounts() map[string]int {
	counts := make(map[string]int)
	if h.messages != nil {
		counts[h.messages.Name()] = h.messages.Subscribers()
	}
	if h.relay != nil {
		counts[h.relay.Name()] = h.relay.Subscribers()
	}
	return counts
}

func (h *Handler) channelCapacities() map[string]int {
	capacities := make(map[string]int)
	if h.messages != nil {
		capacities[h.messages.Name()] = h.messages.Capacity()
	}
	if h.relay != nil {
		capacities[h.relay.Name()] = h.relay.Capacity()
	}
	return capacities
}
