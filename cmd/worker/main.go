// Package main is the entry point for the orchestrator background
// worker: the Runtime pump loop plus the Finalizer and Reaper sweeps.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/protection"
	"orchestrator/internal/core/store"
	"orchestrator/internal/finalizer"
	"orchestrator/internal/infrastructure/bus/busmemory"
	"orchestrator/internal/infrastructure/bus/busredis"
	demoexecutor "orchestrator/internal/infrastructure/executor"
	infraprotection "orchestrator/internal/infrastructure/protection"
	"orchestrator/internal/infrastructure/storage/memory"
	pg "orchestrator/internal/infrastructure/storage/postgres"
	"orchestrator/internal/infrastructure/storage/postgres/storepg"
	"orchestrator/internal/reaper"
	"orchestrator/internal/runtime"
	"orchestrator/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting orchestrator worker")

	var st store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()
		tx := pg.NewTxManagerFromRawPool(pool)
		st = storepg.NewStore(tx)
		log.Info("postgres store initialized")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (not durable across restarts)")
		st = memory.NewStore()
	}

	var b bus.Bus
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalw("failed to parse REDIS_URL", "error", err)
		}
		client := redis.NewClient(opts)
		rb, err := busredis.New(ctx, client, busredis.DefaultConfig(getEnv("BUS_QUEUE_NAME", "ops")))
		if err != nil {
			log.Fatalw("failed to initialize redis bus", "error", err)
		}
		defer client.Close()
		b = rb
		log.Info("redis streams bus initialized")
	} else {
		log.Warn("REDIS_URL not set, using in-memory bus (not shared across processes)")
		b = busmemory.NewBus(30 * time.Second)
	}

	chain := protection.NewChain()
	chain.Timeout = infraprotection.NewTimeout(protection.TimeoutConfig{PerAttemptMs: getEnvInt64("TIMEOUT_PER_ATTEMPT_MS", 5000), OnExpiry: protection.TimeoutActionRetry})
	chain.CircuitBreaker = infraprotection.NewCircuitBreaker(protection.DefaultCircuitBreakerConfig())
	chain.Bulkhead = infraprotection.NewBulkhead(protection.DefaultBulkheadConfig())
	chain.RateLimiter = infraprotection.NewRateLimiter(protection.DefaultRateLimiterConfig())

	exec := demoexecutor.NewDemoExecutor(nil)

	runtimeCfg := runtime.DefaultConfig()
	runtimeCfg.ConcurrencyLimit = getEnvInt("WORKER_CONCURRENCY", runtimeCfg.ConcurrencyLimit)
	rt := runtime.New(st, b, chain, exec, runtimeCfg)

	fz := finalizer.New(st, finalizer.DefaultConfig())
	rp := reaper.New(st, b, reaper.DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); rt.Run(ctx) }()
	go func() { defer wg.Done(); fz.Run(ctx) }()
	go func() { defer wg.Done(); rp.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	wg.Wait()
	log.Infow("worker stopped",
		"completed", rt.CompletedCount(),
		"failed", rt.FailedCount(),
		"retried", rt.RetriedCount(),
		"reconciled", fz.ReconciledCount(),
		"reaped", rp.ReapedCount(),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var result int64
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
