package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartattend/internal/attendance"
	"smartattend/internal/cache"
	"smartattend/internal/config"
	"smartattend/internal/gamification"
	"smartattend/internal/queue"
	"smartattend/internal/store"
	"smartattend/internal/worker"
)

// Worker consumes API events and keeps the cached ranking fresh.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	ranking := cache.NewRedis(redisClient.Client, "smartattend:")

	p := &worker.Processor{Cache: ranking}
	// An in-memory store lives in the API process only; there is nothing to rewarm from.
	if cfg.DBDriver != "memory" {
		backend, err := attendance.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer backend.Close()
		p.Reports = gamification.NewReporter(backend.Store, ranking, gamification.Options{
			AtRiskPercent: cfg.AtRiskPercent,
			CacheTTL:      cfg.LeaderboardCacheTTL,
		})
	}

	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	log.Println("worker started, waiting for messages...")
	if err := p.Run(ctx, queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}
