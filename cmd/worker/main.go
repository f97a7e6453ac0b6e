package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
	"github.com/chusseyoo/proj-sub001/internal/config"
	"github.com/chusseyoo/proj-sub001/internal/metrics"
	"github.com/chusseyoo/proj-sub001/internal/queue"
	"github.com/chusseyoo/proj-sub001/internal/reportcache"
	"github.com/chusseyoo/proj-sub001/internal/store"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

// Worker consumes attendance.recorded events and refreshes the cached
// session reports.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
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

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, 0)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, consumer will keep retrying", cfg.RedisAddr)
	}

	repo := attendance.NewRepository(db.Client)
	// The worker only generates reports; tokens are never verified here.
	svc := attendance.NewService(
		token.NewVerifier(cfg.TokenSigningKey, cfg.TokenIssuer, cfg.TokenAudience),
		repo, repo, repo, nil,
		attendance.Options{
			Policy: attendance.Policy{
				RadiusMeters:     cfg.RadiusMeters,
				LateAfter:        cfg.LateAfter,
				SplitLateReasons: cfg.SplitLate,
			},
			RosterTimeout: cfg.RosterTimeout,
			StoreTimeout:  cfg.StoreTimeout,
		},
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	go serveMetrics(ctx, ":"+cfg.MetricsPort)

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	reportcache.NewRefresher(svc, reportcache.New(redisClient.Client, cfg.ReportCacheTTL), m).Run(ctx, messages)
	log.Println("worker stopped")
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server failed: %v", err)
	}
}
