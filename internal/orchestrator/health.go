package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyluth/glint/internal/learning"
)

// Pinger reports whether a dependency is reachable.
// *blackboard.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DaemonStats is the daemon state reported by /stats.
type DaemonStats struct {
	Instance    string          `json:"instance"`
	Manifests   []string        `json:"manifests"`
	Coordinator *learning.Stats `json:"coordinator,omitempty"`
}

// StatsFunc returns a fresh DaemonStats.
type StatsFunc func() DaemonStats

// HealthServer serves /healthz, /stats and /metrics for the daemon.
type HealthServer struct {
	client Pinger
	stats  StatsFunc
	addr   string
	server *http.Server
}

// NewHealthServer creates a server listening on addr. stats may be nil.
func NewHealthServer(client Pinger, stats StatsFunc, addr string) *HealthServer {
	if addr == "" {
		addr = ":8080"
	}
	return &HealthServer{client: client, stats: stats, addr: addr}
}

// Handler returns the server's routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.HandleFunc("/stats", h.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server in the background.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] Server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Redis      string `json:"redis,omitempty"`
	Instance   string `json:"instance,omitempty"`
	Manifests  int    `json:"manifests,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Error      string `json:"error,omitempty"`
}

// healthCheckHandler answers 200 when Redis (if any) responds, 503 otherwise.
// A full learning queue is reported but does not make the daemon unhealthy.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy"}
	if h.stats != nil {
		s := h.stats()
		response.Instance = s.Instance
		response.Manifests = len(s.Manifests)
		if s.Coordinator != nil {
			response.QueueDepth = s.Coordinator.Depth
		}
	}

	status := http.StatusOK
	if h.client != nil {
		if err := h.client.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Redis = "connected"
		}
	}
	writeJSON(w, status, response)
}

func (h *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stats == nil {
		http.Error(w, "stats unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Health] Failed to write response: %v", err)
	}
}
