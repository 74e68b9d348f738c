package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/parking-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/parking-bookings/internal/adapters/redis"
	"github.com/robertarktes/parking-bookings/internal/auth"
	"github.com/robertarktes/parking-bookings/internal/booking"
	"github.com/robertarktes/parking-bookings/internal/bootstrap"
	"github.com/robertarktes/parking-bookings/internal/config"
	"github.com/robertarktes/parking-bookings/internal/expiry"
	httphandler "github.com/robertarktes/parking-bookings/internal/http"
	"github.com/robertarktes/parking-bookings/internal/idempotency"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/robertarktes/parking-bookings/internal/outbox"
	"github.com/robertarktes/parking-bookings/internal/rateLimit"
	"github.com/robertarktes/parking-bookings/internal/realtime"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "parking-api")
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
	checks := map[string]httphandler.ReadyCheck{"store": store.Ping}

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

	deps := httphandler.RouterDeps{
		Logger:     logger,
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
		RatePerMin: cfg.RateLimit,
	}
	rdb, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		deps.RateLimiter = rateLimit.NewRateLimiter(rdb)
		deps.Idempotency = idempotency.NewIdempotency(redisadapter.NewIdempotency(rdb), cfg.IdempotencyTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting and idempotency keys are disabled")
	}

	hub := realtime.NewHub(logger)
	g, gctx := errgroup.WithContext(ctx)

	conn, err := bootstrap.OpenRabbit(cfg)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	if conn != nil {
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, "booking.#", "slot.#", "notification.#")
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		defer consumer.Close()
		deliveries, err := consumer.Consume(gctx)
		if err != nil {
			log.Fatalf("failed to consume events: %v", err)
		}
		g.Go(func() error { return hub.Consume(gctx, deliveries) })
		checks["rabbit"] = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}

	// The in-memory store is private to this process, so the workers that
	// normally run as separate binaries run here instead.
	if cfg.StoreDriver == config.DriverMemory {
		var broker outbox.Broker = realtime.NewLoopback(hub)
		if conn != nil {
			pub, err := rabbit.NewPublisher(conn)
			if err != nil {
				log.Fatalf("failed to create publisher: %v", err)
			}
			defer pub.Close()
			broker = pub
		}
		relay := outbox.NewPublisher(store.Store, broker, logger, cfg.OutboxBatch)
		sweeper := expiry.NewSweeper(svc, nil, logger, cfg.SweepBatch)
		g.Go(func() error { relay.Run(gctx, cfg.OutboxInterval); return nil })
		g.Go(func() error { sweeper.Run(gctx, cfg.SweepInterval); return nil })
	}

	handlers := httphandler.NewHandlers(svc, hub, checks)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(handlers, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
	}
	logger.Info("Server exiting")
}
