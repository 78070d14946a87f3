package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/outreach/internal/config"
	"github.com/clinicore/outreach/internal/db"
	"github.com/clinicore/outreach/internal/outreach"
	redisclient "github.com/clinicore/outreach/internal/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("dispatch-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.EngineWebhookURL == "" {
		log.Fatal("N8N_WEBHOOK_BASE_URL is required")
	}

	log.Printf("running dispatch worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := outreach.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDispatchLocker(rdb, cfg.LockTTL)
	dispatcher := outreach.NewDispatcher(repo, locker, cfg)

	// Run once at startup
	runOnce(rootCtx, dispatcher)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping dispatch worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher)
		}
	}
}

func runOnce(ctx context.Context, dispatcher *outreach.Dispatcher) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	result, err := dispatcher.Run(runCtx)
	if err != nil {
		if errors.Is(err, outreach.ErrDispatchInProgress) {
			log.Println("dispatch run skipped, another run in progress")
			return
		}
		log.Printf("dispatch run error: %v", err)
		return
	}

	log.Printf("dispatch run complete in %s processed=%d failed=%d skipped=%d",
		time.Since(start), result.Processed, result.Failed, result.Skipped)
	for _, e := range result.Errors {
		log.Printf("dead letter: %s", e)
	}
}
