// main.go: composition root wiring config, stores, pipeline and HTTP server
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/launchforge/admission/internal/behavior"
	"github.com/launchforge/admission/internal/monitor"
	"github.com/launchforge/admission/internal/ratelimit"
)

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg, err := ratelimit.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Counter store: shared Redis when configured, process-local otherwise.
	var store ratelimit.CounterStore
	var memStore *ratelimit.MemoryStore
	if cfg.RedisAddr != "" {
		rs := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, failure mode governs requests",
				zap.String("addr", cfg.RedisAddr),
				zap.String("failure_mode", cfg.FailureMode),
				zap.Error(err))
		}
		cancel()
		store = rs
	} else {
		logger.Info("no redis configured, using in-process counter store")
		memStore = ratelimit.NewMemoryStore()
		store = memStore
	}

	tracker := behavior.NewTracker(cfg.SweepInterval, cfg.IdleEviction, logger)
	tracker.Start()

	mon := monitor.NewMonitor()

	classifier := ratelimit.NewClassifier(cfg.HeavyContentBytes, cfg.CostlyPaths, cfg.Regions)
	geo := ratelimit.NewGeoStrategy(store, classifier, cfg.GeoPolicies, cfg.MaintenanceRegion, cfg.FailureMode, logger)

	pipeline := ratelimit.NewPipeline([]ratelimit.Strategy{
		ratelimit.NewBurstSustainedStrategy(store, cfg.Burst, cfg.Sustained, cfg.FailureMode, logger),
		geo,
		ratelimit.NewContentStrategy(store, classifier, cfg.ContentPolicies, cfg.FailureMode, logger),
		ratelimit.NewAdaptiveStrategy(store, tracker, cfg.Adaptive, cfg.AdaptiveCeilings, cfg.FailureMode, logger),
	}, cfg.BypassPaths, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := r.Group("/admin/ratelimit")
	admin.Use(cors.Default())
	monitor.RegisterAdminRoutes(admin, mon, geo, logger)

	api := r.Group("/")
	api.Use(ratelimit.Middleware(pipeline, classifier, mon, tracker, logger))
	api.Any("/api/*path", func(c *gin.Context) {
		// Placeholder upstream: the admission layer fronts the platform's
		// business handlers, which mount here.
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("admission edge listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("strategies", pipeline.Strategies()),
			zap.String("failure_mode", cfg.FailureMode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	tracker.Stop()
	if memStore != nil {
		memStore.Close()
	}
}
