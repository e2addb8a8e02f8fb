package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/api/middleware"
	"github.com/tinglyhq/agentshell/internal/infrastructure/config"
	"github.com/tinglyhq/agentshell/internal/infrastructure/monitoring"
	"github.com/tinglyhq/agentshell/internal/logging"
	"github.com/tinglyhq/agentshell/internal/providers/shellsvc"
	"github.com/tinglyhq/agentshell/internal/service"
	"github.com/tinglyhq/agentshell/internal/shell"
	"github.com/tinglyhq/agentshell/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	registry *service.Registry
	shells   *shellsvc.Manager
	router   *gin.Engine
	httpSrv  *http.Server
}

// New creates a server instance wired from the given configuration.
// Construct at most once per process: the metrics collectors register
// with the global Prometheus registry.
func New(cfg *config.Config, logger *logging.Logger) *Server {
	metrics := monitoring.NewMetrics()
	registry := service.NewRegistry()

	shellDefaults := shell.Config{
		Shell:          cfg.Shell.Program,
		WorkDir:        cfg.Shell.WorkDir,
		Persistent:     cfg.Shell.Persistent,
		DefaultTimeout: cfg.Shell.Timeout(),
		Logger:         logger.Logger,
	}
	shells := shellsvc.NewManager(metrics, logger.Logger)
	shellProvider := shellsvc.NewProvider(shells, shellDefaults, metrics, logger.Logger)
	if err := registry.Register(shellProvider); err != nil {
		logger.Warn("failed to register shell provider", zap.Error(err))
	}

	if cfg.Logging.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		shells:   shells,
		router:   router,
	}

	handlers := newHandlers(registry, shells, metrics, logger)
	wsHandler := ws.NewHandler(registry, metrics, logger.Logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/services", handlers.ListServices)
	router.POST("/services/discover", handlers.DiscoverServices)
	router.POST("/services/execute", handlers.ExecuteService)

	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.CloseSession)
	router.POST("/sessions/:id/execute", handlers.ExecuteCommand)
	router.POST("/sessions/:id/fork", handlers.ForkSession)
	router.GET("/sessions/:id/vars", handlers.ListVars)
	router.GET("/sessions/:id/vars/:name", handlers.GetVar)
	router.PUT("/sessions/:id/vars/:name", handlers.SetVar)

	router.GET("/stream", wsHandler.HandleConnection)

	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving and blocks until ctx is canceled or the listener
// fails. Shutdown drains in-flight requests, then closes all sessions.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown did not drain cleanly", zap.Error(err))
	}

	s.Close()
	return nil
}

// Close releases all sessions and their shell processes.
func (s *Server) Close() {
	s.shells.CloseAll()
	s.logger.Info("all sessions closed")
}
