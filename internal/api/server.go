// Package api provides the read-only HTTP/WebSocket surface over a
// completed or in-progress run's log. It depends only on internal/runlog's
// public read API and is never imported by the core (bus, subscriber,
// broker, strategy, datafeed, recorder, orchestrator) — a one-way
// dependency edge, so the core can run headless in tests without ever
// constructing a Server.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nilskujath/onesecondtrader/internal/runlog"
)

// Server is the HTTP/WebSocket read surface over a run log database.
type Server struct {
	logger     *zap.Logger
	db         *gorm.DB
	registry   *prometheus.Registry
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer constructs a Server reading from db (the run log database
// opened via runlog.Open). registry may be nil, in which case /metrics
// is not registered.
func NewServer(logger *zap.Logger, db *gorm.DB, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:   logger,
		db:       db,
		registry: registry,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}/fills", s.handleGetFills).Methods("GET")
	s.router.HandleFunc("/runs/{run_id}/stream", s.handleStream)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the fully wrapped HTTP handler (CORS + router), for
// embedding in an *http.Server or a test httptest.Server.
func (s *Server) Handler() http.Handler {
	return cors.Default().Handler(s.router)
}

// ListenAndServe starts the HTTP server on addr and blocks until it
// returns an error (including http.ErrServerClosed on graceful Shutdown).
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	if s.logger != nil {
		s.logger.Info("api server listening", zap.String("addr", addr))
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var runs []runlog.RunRow
	if err := s.db.Order("ts_start_ns DESC").Find(&runs).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	var run runlog.RunRow
	if err := s.db.First(&run, "run_id = ?", runID).Error; err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	var fills []runlog.FillRow
	if err := s.db.Where("run_id = ?", runID).Order("ts_event_ns ASC").Find(&fills).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, fills)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
