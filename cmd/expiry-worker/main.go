package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	redisadapter "github.com/robertarktes/parking-bookings/internal/adapters/redis"
	"github.com/robertarktes/parking-bookings/internal/booking"
	"github.com/robertarktes/parking-bookings/internal/bootstrap"
	"github.com/robertarktes/parking-bookings/internal/config"
	"github.com/robertarktes/parking-bookings/internal/expiry"
	"github.com/robertarktes/parking-bookings/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver == config.DriverMemory {
		log.Fatal("expiry-worker needs a shared store; the api sweeps the in-memory store itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "parking-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	audit, closeAudit, err := bootstrap.OpenAudit(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open audit log: %v", err)
	}
	defer closeAudit()
	var opts []booking.Option
	if audit != nil {
		opts = append(opts, booking.WithAuditor(audit))
	}
	svc := booking.NewService(store.Store, logger, cfg.RequestTTL, opts...)

	// Without Redis every replica sweeps; the guarded update keeps that safe.
	var locker expiry.Locker
	rdb, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		locker = redisadapter.NewCache(rdb)
	}

	sweeper := expiry.NewSweeper(svc, locker, logger, cfg.SweepBatch)
	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	sweeper.Run(ctx, cfg.SweepInterval)
	logger.Info("Shutdown expiry worker")
}
