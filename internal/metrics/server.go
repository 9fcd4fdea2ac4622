package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// Server exposes /health and /metrics. It is the only HTTP surface of the
// indexer; there is deliberately no query API over the stored data.
type Server struct {
	config *config.ServerConfig
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates the metrics HTTP server
func NewServer(cfg *config.ServerConfig) *Server {
	s := &Server{
		config: cfg,
		logger: utils.GetLogger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until Stop is called
func (s *Server) Start() {
	s.logger.WithField("addr", s.server.Addr).Info("Metrics server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithField("error", err.Error()).Error("Metrics server failed")
	}
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
