// Package main is the entry point for the orchestrator demo API server:
// a thin gin surface over the Orchestrator core's submit/status contract.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/idempotency"
	"orchestrator/internal/core/store"
	"orchestrator/internal/infrastructure/bus/busmemory"
	"orchestrator/internal/infrastructure/bus/busredis"
	v1 "orchestrator/internal/infrastructure/http/v1"
	"orchestrator/internal/infrastructure/storage/memory"
	pg "orchestrator/internal/infrastructure/storage/postgres"
	"orchestrator/internal/infrastructure/storage/postgres/storepg"
	"orchestrator/internal/orchestrator"
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

	ctx := context.Background()
	log.Info("starting orchestrator apiserver")

	var (
		st       store.Store
		resolver idempotency.Resolver
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalw("failed to ping database", "error", err)
		}
		tx := pg.NewTxManagerFromRawPool(pool)
		st = storepg.NewStore(tx)
		resolver = storepg.NewIdempotencyResolver(tx)
		log.Info("postgres store and idempotency resolver initialized")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (not durable across restarts)")
		st = memory.NewStore()
		resolver = memory.NewIdempotencyResolver()
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

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.PollIntervalMs = int64(getEnvInt("ORCH_POLL_MS", 10))
	orch := orchestrator.New(st, resolver, b, orchCfg)

	router := v1.NewRouter(v1.RouterConfig{
		Orchestrator: orch,
		Store:        st,
		Bus:          b,
		Logger:       log,
	})

	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("apiserver starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("apiserver failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down apiserver...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("apiserver forced to shutdown", "error", err)
	}

	log.Info("apiserver stopped")
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
