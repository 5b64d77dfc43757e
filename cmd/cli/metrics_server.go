package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/logging"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/scanning"
)

const (
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 10 * time.Second
	serverShutdownTimeout = 5 * time.Second
)

// metricsServer exposes Prometheus metrics and a health probe.
type metricsServer struct {
	httpServer *http.Server
	router     *mux.Router
	metrics    *metrics.PrometheusMetrics
	correlator *correlator.Correlator
	budget     *scanning.SocketBudget
	logger     *logging.Logger
	listener   net.Listener
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Uptime            string `json:"uptime"`
	ICMPAvailable     bool   `json:"icmp_available"`
	CorrelatorPending int    `json:"correlator_pending"`

	Sockets scanning.BudgetStats `json:"sockets"`
}

func newMetricsServer(addr string, pm *metrics.PrometheusMetrics, c *correlator.Correlator,
	budget *scanning.SocketBudget, logger *logging.Logger) *metricsServer {
	s := &metricsServer{
		router:     mux.NewRouter(),
		metrics:    pm,
		correlator: c,
		budget:     budget,
		logger:     logger.WithComponent("metrics-server"),
	}
	s.setupRoutes()

	var handler http.Handler = s.router
	handler = handlers.CombinedLoggingHandler(accessLog{s.logger}, handler)
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	return s
}

func (s *metricsServer) setupRoutes() {
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
}

// Start binds the listener and serves in the background.
func (s *metricsServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.logger.Info("Serving metrics", "address", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *metricsServer) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *metricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *metricsServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  s.metrics.GetUptime().Round(time.Second).String(),
	}
	if s.correlator != nil {
		resp.ICMPAvailable = true
		resp.CorrelatorPending = s.correlator.Pending()
	}
	if s.budget != nil {
		resp.Sockets = s.budget.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to encode health response", "error", err)
	}
}

// accessLog adapts the combined log format writer to the structured logger.
type accessLog struct {
	logger *logging.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.logger.Debug("HTTP request", "line", strings.TrimSpace(string(p)))
	return len(p), nil
}
