package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/microhost/internal/api/http"
	"github.com/GriffinCanCode/microhost/internal/api/middleware"
	"github.com/GriffinCanCode/microhost/internal/api/ws"
	"github.com/GriffinCanCode/microhost/internal/domain/app"
	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

const vmPoolSize = 4

// Server wraps the HTTP server and the host core it exposes
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	scheduler *assets.Scheduler
	pool      *sandbox.Pool
	manager   *app.Manager
	page      *container.Page
	router    *gin.Engine
	http      *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the host core and its control API
func NewServer(cfg *config.Config) (*Server, error) {
	newLogger := logging.NewProduction
	if cfg.Logging.Development {
		newLogger = logging.NewDevelopment
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("Initializing micro-frontend host",
		zap.String("port", cfg.Server.Port),
		zap.String("manifest", cfg.Server.Manifest),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("microhost", logger.Logger)

	fetcherCfg := assets.DefaultFetcherConfig()
	fetcherCfg.Timeout = cfg.Fetch.Timeout
	fetcherCfg.UserAgent = cfg.Fetch.UserAgent
	fetcherCfg.RPS = cfg.Fetch.RPS
	fetcherCfg.Retries = cfg.Fetch.Retries
	fetcher := assets.NewHTTPFetcher(fetcherCfg)

	cache := assets.NewCache(fetcher.Fetch, logger).WithMetrics(metrics)
	schedulerCfg := assets.DefaultSchedulerConfig()
	if cfg.Prefetch.Workers > 0 {
		schedulerCfg.Workers = cfg.Prefetch.Workers
	}
	if cfg.Prefetch.IdleWindow > 0 {
		schedulerCfg.IdleWindow = cfg.Prefetch.IdleWindow
	}
	if cfg.Prefetch.RPS > 0 {
		schedulerCfg.RPS = cfg.Prefetch.RPS
	}
	schedulerCfg.MaxRetries = cfg.Prefetch.MaxRetries
	scheduler, err := assets.NewScheduler(cache, schedulerCfg, logger)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to start prefetch scheduler: %w", err)
	}
	scheduler.WithMetrics(metrics)

	sbConfig := sandbox.DefaultConfig()
	sbConfig.Timeout = cfg.Sandbox.ScriptTimeout
	pool := sandbox.NewPool(sbConfig, vmPoolSize)

	events := bus.NewEventCenter(logger).WithMetrics(metrics)
	manager := app.NewManager(app.Deps{
		Cache:     cache,
		Scheduler: scheduler,
		Events:    events,
		Pool:      pool,
		Sandbox:   sbConfig,
		Logger:    logger,
	}).WithMetrics(metrics)

	page := container.NewPage(logger)
	page.Observe(manager)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		scheduler: scheduler,
		pool:      pool,
		manager:   manager,
		page:      page,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Server.Manifest != "" {
		manifest, err := config.LoadManifest(cfg.Server.Manifest)
		if err != nil {
			s.shutdownCore(context.Background())
			return nil, err
		}
		s.applyManifest(manifest)

		if cfg.Server.WatchManifest {
			if err := config.WatchManifest(ctx, cfg.Server.Manifest, logger, s.applyManifest); err != nil {
				logger.Warn("Manifest watch disabled", zap.Error(err))
			}
		}
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.CORS))
	if limiter := middleware.NewLimiter(cfg.Limits); limiter != nil {
		logger.Info("Rate limiting enabled",
			zap.Float64("rps", cfg.Limits.RPS),
			zap.Int("burst", cfg.Limits.Burst),
		)
		router.Use(limiter.Middleware())
	}

	handlers := apihttp.NewHandlers(manager, page, fetcher, scheduler, apihttp.NewHandlerMetrics(metrics), logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(events, logger).WithMetrics(metrics)
	router.GET("/ws/bus", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	s.http = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// applyManifest declares manifest apps and queues their idle prefetch.
// Entries that fail are logged and skipped.
func (s *Server) applyManifest(m *config.Manifest) {
	for _, opts := range m.Apps {
		if err := s.manager.Declare(opts); err != nil {
			s.logger.Warn("Skipping manifest app", zap.String("app", opts.Name), zap.Error(err))
		}
	}

	items := make([]app.PrefetchItem, 0, len(m.Prefetch))
	for _, entry := range m.Prefetch {
		items = append(items, app.PrefetchItem{
			Name:            entry.Name,
			URL:             entry.URL,
			DisableScopeCSS: entry.DisableScopeCSS,
			DisableSandbox:  entry.DisableSandbox,
		})
	}
	if len(items) > 0 {
		if err := s.manager.Prefetch(s.ctx, items); err != nil {
			s.logger.Warn("Some prefetch entries were rejected", zap.Error(err))
		}
	}

	globals := append(append([]string{}, m.GlobalAssets.JS...), m.GlobalAssets.CSS...)
	if len(globals) > 0 {
		if err := s.manager.PreloadGlobalAssets(s.ctx, globals); err != nil {
			s.logger.Warn("Failed to queue global assets", zap.Error(err))
		}
	}

	s.logger.Info("Manifest applied",
		zap.Int("apps", len(m.Apps)),
		zap.Int("prefetch", len(items)),
		zap.Int("global_assets", len(globals)),
	)
}

// Handler returns the root handler. Responses are gzip encoded except
// WebSocket upgrades, which need the raw connection.
func (s *Server) Handler() http.Handler {
	gz := gzhttp.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Manager exposes the orchestrator
func (s *Server) Manager() *app.Manager {
	return s.manager
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting requests, destroys every application and releases
// background workers.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.shutdownCore(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) shutdownCore(ctx context.Context) error {
	s.cancel()

	err := s.manager.UnmountAll(ctx, types.UnmountOptions{Destroy: true})
	if err != nil {
		s.logger.Error("Failed to unmount applications", zap.Error(err))
		err = fmt.Errorf("unmount all: %w", err)
	}

	s.scheduler.Stop()
	s.pool.Close()
	s.tracer.Close()
	_ = s.logger.Sync()
	return err
}
