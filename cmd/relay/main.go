package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"paircast/internal/core/services"
	"paircast/internal/infrastructure/middleware"
	"paircast/internal/infrastructure/monitoring"
	repositories "paircast/internal/infrastructure/repositories"
	"paircast/internal/infrastructure/signal"
	"paircast/pkg/config"
	"paircast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/paircast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	sessionRepo := repoFactory.CreateSessionRepository()

	registry := services.NewRegistry(
		sessionRepo,
		cfg.Pairing.MaxCreates,
		cfg.Pairing.RateLimitWindow,
		log,
		services.WithSessionTTL(cfg.Pairing.SessionTTL),
		services.WithSweepInterval(cfg.Pairing.SweepInterval),
	)

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	registry.StartSweeper(sweeperCtx)
	defer registry.Stop()

	var collector *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewCollector()
	}

	wsServer := signal.NewWebSocketServer(registry, collector, log)
	wsServer.SetKeepalive(cfg.Signal.PingInterval, cfg.Signal.PongTimeout, cfg.Signal.WriteTimeout)
	wsServer.SetMessageRate(cfg.Signal.MessagesPerSecond, cfg.Signal.Burst)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/signal", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":         "healthy",
			"activeSessions": registry.ActiveSessions(c.Request.Context()),
			"uptimeSeconds":  int(time.Since(startTime).Seconds()),
		})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"activeSessions":  registry.ActiveSessions(c.Request.Context()),
			"uptimeSeconds":   int(time.Since(startTime).Seconds()),
			"liveConnections": wsServer.LiveConnections(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting pairing relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down pairing relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Pairing relay stopped")
}
