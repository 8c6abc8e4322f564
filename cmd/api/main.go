package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/biometric"
	"smartattend/internal/cache"
	"smartattend/internal/cloudinary"
	"smartattend/internal/config"
	"smartattend/internal/faceclient"
	"smartattend/internal/gamification"
	"smartattend/internal/handler"
	"smartattend/internal/httpmiddleware"
	"smartattend/internal/queue"
	"smartattend/internal/store"
	"smartattend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backend, err := attendance.Open(startCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	health := map[string]handler.HealthCheck{"db": backend.Healthy}

	var (
		events  queue.Queue
		ranking gamification.Cache = cache.Nop{}
	)
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = redisClient.Close() }()
		events = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		ranking = cache.NewRedis(redisClient.Client, "smartattend:")
		health["redis"] = redisClient.Healthy
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceTimeout)
	if !cfg.FaceSkip {
		health["face"] = func(ctx context.Context) bool { return face.Health(ctx) == nil }
	}

	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	svc := attendance.NewService(backend.Store, biometric.NewMatcher(cfg.MatchThreshold), face)
	reports := gamification.NewReporter(backend.Store, ranking, gamification.Options{
		AtRiskPercent: cfg.AtRiskPercent,
		CacheTTL:      cfg.LeaderboardCacheTTL,
	})

	// With no broker there is no separate worker; consume in-process so the
	// bounded queue never fills.
	if cfg.QueueBackend == "memory" {
		workerCtx, stopWorker := context.WithCancel(context.Background())
		defer stopWorker()
		p := &worker.Processor{Cache: cache.Nop{}}
		go func() {
			if err := p.Run(workerCtx, events); err != nil {
				log.Printf("in-process worker: %v", err)
			}
		}()
	}

	h := handler.New(handler.Deps{
		Service:  svc,
		Reports:  reports,
		Events:   events,
		Uploader: cdn,
		Health:   health,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(httpmiddleware.ByIP))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	joinLimiter := httpmiddleware.NewSimpleTokenBucket(cfg.JoinAttemptsPerMin, cfg.JoinAttemptsPerMin)
	h.Routes(r, handler.Middleware{
		Auth:      auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer),
		JoinLimit: joinLimiter.GinMiddleware(handler.ByUser),
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // joins may wait on the face service
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (db=%s, queue=%s)", cfg.HTTPPort, cfg.DBDriver, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
