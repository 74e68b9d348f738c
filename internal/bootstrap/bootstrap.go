// Package bootstrap opens the backing services the binaries share.
package bootstrap

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/parking-bookings/internal/adapters/crdb"
	"github.com/robertarktes/parking-bookings/internal/adapters/memstore"
	mongoadapter "github.com/robertarktes/parking-bookings/internal/adapters/mongo"
	"github.com/robertarktes/parking-bookings/internal/config"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is a booking store that also feeds the outbox publisher.
type Store interface {
	domain.Store
	DrainOutbox(ctx context.Context, limit int, publish func(context.Context, domain.Event) error) (int, error)
}

// Opened is a store plus its readiness check and release hook.
type Opened struct {
	Store Store
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenStore connects to CockroachDB and applies the schema, or builds an
// in-memory store when cfg says so.
func OpenStore(ctx context.Context, cfg *config.Config) (*Opened, error) {
	if cfg.StoreDriver == config.DriverMemory {
		return &Opened{
			Store: memstore.New(),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect to crdb")
	}
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate crdb")
	}
	return &Opened{Store: repo, Ping: repo.Ping, Close: pool.Close}, nil
}

// OpenRedis returns nil when no address is configured.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redisclient.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// OpenRabbit returns nil when no URL is configured.
func OpenRabbit(cfg *config.Config) (*amqp.Connection, error) {
	if cfg.RabbitURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	return conn, nil
}

// OpenAudit connects the Mongo audit trail. It returns a nil logger and a
// no-op close when MONGO_URI is unset.
func OpenAudit(ctx context.Context, cfg *config.Config, logger observability.Logger) (*mongoadapter.AuditLogger, func(), error) {
	if cfg.MongoURI == "" {
		return nil, func() {}, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongo")
	}
	disconnect := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	audit := mongoadapter.NewAuditLogger(client.Database(cfg.MongoDB), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, errors.Wrap(err, "create audit indexes")
	}
	return audit, disconnect, nil
}
