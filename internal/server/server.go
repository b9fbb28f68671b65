package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesm/tracedash/internal/config"
	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/sync"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server that serves the analytics API.
type Server struct {
	mu       gosync.RWMutex
	cfg      config.Config
	db       *db.DB // nil without a run store
	engine   *sync.Engine
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
	httpSrv  *http.Server
	version  VersionInfo

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server. database may be nil.
func New(
	cfg config.Config, database *db.DB, engine *sync.Engine,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:    cfg,
		db:     database,
		engine: engine,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics exposes g on /metrics. Nil is ignored.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/v1/analytics/summary", s.withTimeout(s.handleSummary))
	s.mux.Handle("GET /api/v1/analytics/timeseries", s.withTimeout(s.handleTimeSeries))
	s.mux.Handle("GET /api/v1/analytics/latency", s.withTimeout(s.handleLatency))
	s.mux.Handle("GET /api/v1/analytics/users", s.withTimeout(s.handleTopUsers))
	s.mux.Handle("GET /api/v1/analytics/day-of-week", s.withTimeout(s.handleDayOfWeek))
	s.mux.Handle("GET /api/v1/analytics/hourly", s.withTimeout(s.handleHourly))
	s.mux.Handle("GET /api/v1/analytics/recent", s.withTimeout(s.handleRecent))
	s.mux.Handle("GET /api/v1/analytics/programs", s.withTimeout(s.handlePrograms))

	s.mux.Handle("GET /api/v1/users", s.withTimeout(s.handleListUsers))
	s.mux.Handle("GET /api/v1/status", s.withTimeout(s.handleStatus))
	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
	// Refresh streams progress; do not use the timeout handler.
	s.mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)

	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.gatherer, promhttp.HandlerOpts{},
		))
	}
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// hidePlaceholders returns the configured name policy default.
func (s *Server) hidePlaceholders() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.HidePlaceholderNames
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

// URL returns the base URL for host and port.
func URL(host string, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))
}
