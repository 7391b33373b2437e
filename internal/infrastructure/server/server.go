package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/termdeck/backend/internal/api/http"
	"github.com/termdeck/backend/internal/api/middleware"
	"github.com/termdeck/backend/internal/api/ws"
	"github.com/termdeck/backend/internal/domain/console"
	"github.com/termdeck/backend/internal/infrastructure/config"
	"github.com/termdeck/backend/internal/infrastructure/logging"
	"github.com/termdeck/backend/internal/infrastructure/monitoring"
	"github.com/termdeck/backend/internal/persistence"
	"github.com/termdeck/backend/internal/transport"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	console *console.Service
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance: snapshot store, console
// service with real websocket transports, and the HTTP surface.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing console backend",
		zap.String("port", cfg.Server.Port),
		zap.String("remote_url", cfg.Remote.URL),
		zap.String("snapshot_db", cfg.Storage.Path),
	)

	metrics := monitoring.NewMetrics()

	store, err := persistence.NewStore(cfg.Storage.Path, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	factory := func(sessionID string) console.Transport {
		return transport.New(transport.Settings{
			URL:               cfg.Remote.URL,
			MaxRetries:        cfg.Session.MaxRetries,
			InitialRetryDelay: cfg.Session.InitialRetryDelay,
			MaxRetryDelay:     cfg.Session.MaxRetryDelay,
			SubmitTimeout:     cfg.Session.SubmitTimeout,
			ResumeDelay:       cfg.Session.ResumeDelay,
			Logger:            logger.With(zap.String("session_id", sessionID)),
		})
	}

	svc, err := console.New(console.Options{
		Store:       store,
		Factory:     factory,
		Debounce:    cfg.Storage.Debounce,
		MaxSessions: cfg.Session.MaxSessions,
		Metrics:     metrics,
		Logger:      logger.Logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start console service: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(svc, cfg)
	bridge := ws.NewBridge(svc, metrics, logger.Logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/config", handlers.Config)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session lifecycle
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions", handlers.CreateSession)
	router.DELETE("/sessions/:id", handlers.CloseSession)
	router.DELETE("/sessions", handlers.CloseAllSessions)
	router.PATCH("/sessions/:id/name", handlers.RenameSession)
	router.POST("/sessions/:id/minimize", handlers.MinimizeSession)
	router.POST("/sessions/:id/focus", handlers.FocusSession)
	router.POST("/sessions/deactivate", handlers.DeactivateAll)
	router.PATCH("/sessions/:id/position", handlers.MoveSession)
	router.PATCH("/sessions/:id/size", handlers.ResizeSession)
	router.POST("/sessions/:id/duplicate", handlers.DuplicateSession)
	router.POST("/sessions/:id/reset", handlers.ResetSession)

	// Device link
	router.POST("/sessions/:id/submit", handlers.Submit)
	router.POST("/sessions/:id/connect", handlers.ConnectSession)
	router.POST("/sessions/:id/disconnect", handlers.DisconnectSession)

	// Event bridge
	router.GET("/ws", bridge.HandleConnection)

	return &Server{
		router:  router,
		console: svc,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close gracefully shuts down the server: drain HTTP, then flush and
// close the console service.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
		}
	}

	if err := s.console.Close(); err != nil {
		s.logger.Error("Failed to close console service", zap.Error(err))
		return fmt.Errorf("failed to close console service: %w", err)
	}

	s.logger.Sync()
	return nil
}
