package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/api"
	"pairchat/internal/config"
	"pairchat/internal/database"
	"pairchat/internal/hub"
	"pairchat/internal/metrics"
	"pairchat/internal/router"
	"pairchat/internal/session"
	"pairchat/internal/websocket"
	pkgdatabase "pairchat/pkg/database"
)

// Application owns every component and their start/stop order
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	dbManager   *database.Manager
	registry    *websocket.Registry
	eventLoop   *hub.Hub
	pool        *session.WaitingPool
	coordinator *session.Coordinator
	limiter     *router.RateLimiter
	chatRouter  *router.Router
	throttle    *api.HandshakeThrottle
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
}

// NewApplication builds the component graph.
// Order: Database → Registry → Hub → Pool/Coordinator → Limiter/Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// STEP 1: Directory on SQLite, migrated and checked
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.MigrationsPath = cfg.Database.MigrationsPath

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations, err := pkgdatabase.MigrationsFS(dbConfig.MigrationsPath)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), migrations)
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrationManager.ValidateSchema(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	// STEP 2: Gateway over WebSocket connections
	registry := websocket.NewRegistry(logger)

	// STEP 3: Event loop
	eventLoop := hub.NewHub(logger)

	// STEP 4: Waiting pool and match lifecycle
	pool := session.NewWaitingPool()
	coordinator := session.NewCoordinator(pool, dbManager, registry, eventLoop, session.Config{
		MatchTimeout:     cfg.Match.Timeout,
		DirectoryTimeout: cfg.Database.Timeout,
	}, logger, m)

	// STEP 5: Rate limiter and chat router
	limiter := router.NewRateLimiter(eventLoop, registry, router.RateLimitConfig{
		Window:        cfg.RateLimit.Window,
		Threshold:     cfg.RateLimit.Threshold,
		BlockDuration: cfg.RateLimit.BlockDuration,
		IdleEviction:  cfg.RateLimit.IdleEviction,
	}, logger, m)
	chatRouter := router.NewRouter(dbManager, registry, limiter, eventLoop, cfg.Database.Timeout, logger, m)
	coordinator.SetHistoryReplayer(chatRouter)
	chatRouter.SetIdentities(coordinator)
	eventLoop.Attach(coordinator, chatRouter)

	// STEP 6: WebSocket endpoint feeding the hub
	wsHandler := websocket.NewHandler(registry, eventLoop, websocket.Options{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		SendBuffer:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, logger, m)

	var throttle *api.HandshakeThrottle
	if perMinute := cfg.WebSocket.HandshakesPerMinute; perMinute > 0 {
		throttle = api.NewHandshakeThrottle(perMinute, time.Minute, logger, m)
	}

	app := &Application{
		config:      cfg,
		logger:      logger,
		metrics:     m,
		dbManager:   dbManager,
		registry:    registry,
		eventLoop:   eventLoop,
		pool:        pool,
		coordinator: coordinator,
		limiter:     limiter,
		chatRouter:  chatRouter,
		throttle:    throttle,
	}

	// STEP 7: HTTP surface
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	app.apiServer = api.NewServer(dbManager, registry, app, wsHandler, throttle, m, api.Options{
		MetricsPath:   metricsPath,
		HealthTimeout: cfg.Database.Timeout,
	}, logger)

	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start runs the event loop, then binds the listener and serves in the background
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Event loop first so handshakes always find it running
	if err := app.eventLoop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event loop: %w", err)
	}
	if err := app.eventLoop.Call(ctx, app.limiter.StartSweeper); err != nil {
		_ = app.eventLoop.Stop()
		return fmt.Errorf("failed to start rate window sweeper: %w", err)
	}

	// STEP 2: Bind synchronously so address errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.eventLoop.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("pairchat started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop shuts down in reverse order: HTTP → connections → event loop → Directory
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error

	// STEP 1: Stop accepting handshakes and requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Hijacked sockets are not covered by Shutdown
	if n := app.registry.CloseAll(); n > 0 {
		app.logger.Info("closed open connections", zap.Int("count", n))
	}

	// STEP 3: Stop the sweeper and the loop
	if err := app.eventLoop.Call(ctx, app.limiter.StopSweeper); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("stop sweeper: %w", err))
	}
	if err := app.eventLoop.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("event loop shutdown: %w", err))
	}

	if app.throttle != nil {
		app.throttle.Close()
	}

	// STEP 4: Directory last; in-flight Await work may still be writing
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	app.logger.Info("shutdown complete")
	return nil
}

// CoreStats reads the pool and limiter sizes on the event loop
func (app *Application) CoreStats(ctx context.Context) (api.CoreSnapshot, error) {
	var snapshot api.CoreSnapshot
	err := app.eventLoop.Call(ctx, func() {
		snapshot.WaitingPool = app.pool.Len()
		snapshot.RateWindows = app.limiter.Len()
	})
	return snapshot, err
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Metrics returns the collectors, or nil when metrics are disabled
func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}
