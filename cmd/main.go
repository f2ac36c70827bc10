package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cache-service/internal/config"
	"cache-service/internal/handlers"
	"cache-service/internal/services"
	cachepkg "cache-service/internal/services/cache"
	"cache-service/internal/services/caches"
	"cache-service/internal/storage"
	"cache-service/internal/utils"
)

const (
	sweepInterval = time.Minute
	meterTimeout  = 10 * time.Second

	// Heuristic ceiling for the durable tier when the backend reports no
	// native quota, roughly ten times the default warm-tier budget.
	objectStoreBudget = 20 << 30
)

func main() {
	cfg := InitConfig()
	minioClient := InitMinIOClient(cfg)

	metrics := utils.NewMetrics()

	tier1 := caches.NewMemoryCache(cfg.MemoryCacheMaxBytes, sweepInterval)
	defer tier1.Close()

	tier2, tier2Quota, closeTier2 := InitTier2(cfg)
	defer closeTier2()

	tier3 := caches.NewMinioCache(minioClient, cfg.MinioBucket)

	cleanup := services.NewLRUCleanupCoordinator(cfg.CleanupFraction)
	cleanup.RegisterStore(tier1.Name(), tier1)
	cleanup.RegisterStore(tier2.Name(), tier2)
	defer cleanup.Shutdown()

	quota := services.NewQuotaDetector(cfg.QuotaRefreshInterval)
	quota.Register(tier1.Name(), services.MemoryQuotaEstimator())
	quota.Register(tier2.Name(), tier2Quota)
	quota.Register(tier3.Name(), services.NativeQuotaEstimator(nil, objectStoreBudget, meterTimeout))

	monitor := services.NewHealthMonitor(services.MonitorConfig{
		Meters: []services.TierMeter{
			services.NewSyncMeter(tier1),
			services.NewSyncMeter(tier2),
			services.NewAsyncMeter(tier3, meterTimeout),
		},
		Quota:         quota,
		Cleanup:       cleanup,
		CheckInterval: cfg.HealthCheckInterval,
		AutoCleanup:   cfg.AutoCleanup,
		Metrics:       metrics,
	})
	monitor.Start()
	defer monitor.Shutdown()

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		Tier1:        tier1,
		Tier2:        tier2,
		Tier3:        tier3,
		BaseTTL:      cfg.BaseTTL,
		SingleFlight: cfg.SingleFlight,
		Cleanup:      cleanup,
		Quality:      services.NewBasicQualityChecker(0),
		Metrics:      metrics,
	})

	executor := services.NewResilienceExecutor(services.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}, nil, metrics)
	executor.SetDefaultOptions(services.ExecOptions{
		MaxRetries: cfg.RetryMax,
		BaseDelay:  cfg.RetryBaseDelay,
		Timeout:    cfg.FetchTimeout,
	})

	app := fiber.New()

	// Register Prometheus metrics endpoint
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	cacheHandler := handlers.NewCacheHandler(orchestrator)
	healthHandler := handlers.NewHealthHandler(monitor, cleanup)
	resilienceHandler := handlers.NewResilienceHandler(executor)

	api := app.Group("/api")
	api.Get("/cache/stats", cacheHandler.GetCacheStats)
	api.Post("/cache/clear", cacheHandler.ClearCache)
	api.Delete("/cache/pattern/:prefix", cacheHandler.InvalidatePattern)

	api.Get("/cache/health", healthHandler.GetHealth)
	api.Get("/cache/health/warnings", healthHandler.GetWarnings)
	api.Post("/cache/health/check", healthHandler.CheckNow)
	api.Post("/cache/cleanup", healthHandler.TriggerCleanup)

	api.Get("/resilience/breakers", resilienceHandler.ListBreakers)
	api.Post("/resilience/breakers/:name/reset", resilienceHandler.ResetBreaker)
	api.Post("/resilience/breakers/:name/open", resilienceHandler.OpenBreaker)
	api.Post("/resilience/fallbacks/:name", resilienceHandler.RegisterFallbacks)

	api.Get("/swagger/*", swagger.HandlerDefault)

	// Liveness probe
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	routes := app.GetRoutes()
	log.Println("Registered routes:")
	for _, r := range routes {
		log.Printf("  %s %s\n", r.Method, r.Path)
	}

	port := cfg.AppPort
	if port == "" {
		port = "8080"
		log.Printf("Defaulting to port %s", port)
	}

	go func() {
		log.Printf("Server listening on port %s", port)
		if err := app.Listen(":" + port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func InitConfig() *config.Config {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return cfg
}

func InitMinIOClient(cfg *config.Config) *minio.Client {
	minioClient, err := storage.NewMinioClient(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioSSL,
	})
	if err != nil {
		log.Fatalf("MinIO client initialization failed: %v", err)
	}
	return minioClient
}

// InitTier2 builds the warm tier from the configured backend and returns the
// store, its quota estimator and a close function for shutdown.
func InitTier2(cfg *config.Config) (cachepkg.SyncStore, services.QuotaEstimator, func()) {
	switch cfg.Tier2Backend {
	case config.Tier2BackendFile:
		fc := caches.NewFileSystemCache(cfg.FileCacheDir, cfg.FileCacheMaxBytes, sweepInterval)
		return fc, services.WriteProbeQuotaEstimator(fc), fc.Close

	default:
		client, err := storage.NewRedisClient(cfg.RedisHost, cfg.RedisPort)
		if err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}
		rc := caches.NewRedisCache(client)
		return rc, services.WriteProbeQuotaEstimator(rc), func() {
			if err := client.Close(); err != nil {
				log.Printf("Redis close error: %v", err)
			}
		}
	}
}
