// Package adminhttp implements the externally-owned admin surface: health,
// Prometheus metric exposition, and dataflow/publisher stats, grounded on
// the teacher's internal/interfaces/http handler set.
package adminhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/mdcollector/internal/supervisor"
)

// Server exposes /health, /metrics, /api/stats, and
// /api/dataflow/status as read-only views over C4/C5/C6 counters.
type Server struct {
	sup    *supervisor.Supervisor
	router *mux.Router
}

// NewServer builds the admin HTTP router. registry is the process's
// Prometheus registry (from observability.InitializeMetrics().Registry).
func NewServer(sup *supervisor.Supervisor, registry *prometheus.Registry) *Server {
	s := &Server{sup: sup, router: mux.NewRouter()}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/dataflow/status", s.handleDataflowStatus).Methods(http.MethodGet)
	return s
}

// Handler returns the underlying http.Handler for mounting on a listener.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.sup.Health()
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

type statsResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Health    supervisor.HealthReport `json:"health"`
	Channels  []channelStats          `json:"channels"`
}

type channelStats struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Submitted        int64  `json:"submitted"`
	Delivered        int64  `json:"delivered"`
	Failed           int64  `json:"failed"`
	ConsecutiveFails int64  `json:"consecutiveFails"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	descriptors := s.sup.Manager().Describe()
	channels := make([]channelStats, 0, len(descriptors))
	for _, d := range descriptors {
		channels = append(channels, channelStats{
			ID:               d.ID,
			Kind:             string(d.Kind),
			Submitted:        d.Metrics.Submitted.Load(),
			Delivered:        d.Metrics.Delivered.Load(),
			Failed:           d.Metrics.Failed.Load(),
			ConsecutiveFails: d.Metrics.ConsecutiveFails.Load(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		Timestamp: time.Now(),
		Health:    s.sup.Health(),
		Channels:  channels,
	})
}

type dataflowStatusResponse struct {
	QueueDepth int64 `json:"queueDepth"`
	Running    bool  `json:"running"`
}

func (s *Server) handleDataflowStatus(w http.ResponseWriter, r *http.Request) {
	health := s.sup.Health()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dataflowStatusResponse{
		QueueDepth: health.QueueDepth,
		Running:    health.DataflowRunning,
	})
}
