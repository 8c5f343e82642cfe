package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pairchat/internal/metrics"
	"pairchat/pkg/interfaces"
)

// Registry is the slice of websocket.Registry the API reads
type Registry interface {
	GetStats() map[string]int
}

// CoreSnapshot is loop-owned state read through the event loop
type CoreSnapshot struct {
	WaitingPool int `json:"waiting_pool"`
	RateWindows int `json:"rate_windows"`
}

// CoreStats reads a CoreSnapshot without racing the event loop
type CoreStats interface {
	CoreStats(ctx context.Context) (CoreSnapshot, error)
}

// Options configures optional routes and middleware
type Options struct {
	MetricsPath   string // empty disables /metrics
	HealthTimeout time.Duration
}

// Server is the HTTP surface: the WebSocket endpoint plus health, stats and metrics
type Server struct {
	directory interfaces.Directory
	registry  Registry
	core      CoreStats
	websocket http.Handler
	throttle  *HandshakeThrottle
	metrics   *metrics.Metrics
	options   Options
	logger    *zap.Logger
	router    chi.Router
}

// NewServer builds the router. throttle may be nil to accept every handshake.
func NewServer(directory interfaces.Directory, registry Registry, core CoreStats, ws http.Handler, throttle *HandshakeThrottle, m *metrics.Metrics, options Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.HealthTimeout <= 0 {
		options.HealthTimeout = 5 * time.Second
	}
	s := &Server{
		directory: directory,
		registry:  registry,
		core:      core,
		websocket: ws,
		throttle:  throttle,
		metrics:   m,
		options:   options,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	ws := s.websocket
	if s.throttle != nil {
		ws = s.throttle.Middleware(ws)
	}
	s.router.Method(http.MethodGet, "/ws", ws)

	s.router.Get("/health", s.healthCheck)
	s.router.Get("/api/stats", s.stats)

	if s.options.MetricsPath != "" {
		s.router.Method(http.MethodGet, s.options.MetricsPath, s.metrics.Handler())
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	EventLoop   string         `json:"event_loop"`
	Connections map[string]int `json:"connections"`
	WaitingPool int            `json:"waiting_pool"`
}

type StatsResponse struct {
	Connections map[string]int `json:"connections"`
	Core        CoreSnapshot   `json:"core"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// healthCheck reports 503 when the Directory or the event loop is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.options.HealthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		EventLoop:   "running",
		Connections: s.registry.GetStats(),
	}

	if err := s.directory.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "error: " + err.Error()
	}

	snapshot, err := s.core.CoreStats(ctx)
	if err != nil {
		response.Status = "unhealthy"
		response.EventLoop = "error: " + err.Error()
	}
	response.WaitingPool = snapshot.WaitingPool

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check failed",
			zap.String("database", response.Database),
			zap.String("event_loop", response.EventLoop))
	}
	writeJSON(w, code, response)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.core.CoreStats(r.Context())
	if err != nil {
		sendError(w, "Event loop unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Connections: s.registry.GetStats(),
		Core:        snapshot,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// requestLogger logs each request with its chi route pattern
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "/unknown"
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", pattern),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_ip", remoteIP(r)))
	})
}
