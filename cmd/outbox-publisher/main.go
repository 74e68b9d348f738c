package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robertarktes/parking-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/parking-bookings/internal/bootstrap"
	"github.com/robertarktes/parking-bookings/internal/config"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/robertarktes/parking-bookings/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver == config.DriverMemory {
		log.Fatal("outbox-publisher needs a shared store; the api relays the in-memory outbox itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "parking-outbox-publisher")
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

	conn, err := bootstrap.OpenRabbit(cfg)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	if conn == nil {
		log.Fatal("RABBIT_URL is required")
	}
	defer conn.Close()

	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer pub.Close()

	relay := outbox.NewPublisher(store.Store, pub, logger, cfg.OutboxBatch)
	logger.WithField("interval", cfg.OutboxInterval.String()).Info("outbox publisher started")
	relay.Run(ctx, cfg.OutboxInterval)
	logger.Info("Shutdown outbox publisher")
}
