package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/StartaleGroup/scs-aa-paymasters/src/app"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
	"github.com/StartaleGroup/scs-aa-paymasters/src/service"
)

// Standalone sweeper worker: prunes expired inflight sponsorships without
// running the full API server. Deploy at most one instance per Redis
// keyspace; the prune cycle is not coordinated across instances.
func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Overload(".env"); err != nil {
			log.Fatalf("Error loading .env file: %v", err)
		}
	}

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := app.InitLogger(logLevel)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	rootCtx = logger.WithContext(rootCtx)

	redisOpts, err := redis.ParseURL(redisAddr)
	if err != nil {
		log.Fatalf("failed to parse redis URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		log.Fatalf("connection to redis failed: %v", err)
	}

	sweepInterval := 60 * time.Second
	if raw := os.Getenv("SWEEP_INTERVAL_SECONDS"); raw != "" {
		if parsed, err := time.ParseDuration(raw + "s"); err == nil {
			sweepInterval = parsed
		}
	}

	// Standalone mode has no engine; the sweeper only prunes expiries.
	inflightRepo := repository.NewInflightCacheRepository(rdb, "paymaster")
	sweeper := service.NewSweeperService(inflightRepo, nil, nil, service.SweeperConfig{
		SweepInterval: sweepInterval,
	})

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Start(rootCtx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("sweeper stopped with error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	rootCancel()
	wg.Wait()

	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close redis connection")
	}
	logger.Info().Msg("Sweeper shutdown complete")
}
