package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StoreDriver  string `envconfig:"STORE_DRIVER" default:"crdb"`
	CRDBDSN      string `envconfig:"CRDB_DSN"`
	MongoURI     string `envconfig:"MONGO_URI"`
	MongoDB      string `envconfig:"MONGO_DB" default:"parking"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	RabbitURL    string `envconfig:"RABBIT_URL"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	RequestTTL     time.Duration `envconfig:"REQUEST_TTL" default:"15m"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	SweepBatch     int           `envconfig:"SWEEP_BATCH" default:"200"`
	OutboxInterval time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxBatch    int           `envconfig:"OUTBOX_BATCH" default:"100"`
	RateLimit      int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

const (
	DriverCRDB   = "crdb"
	DriverMemory = "memory"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverCRDB:
		if c.CRDBDSN == "" {
			return errors.New("CRDB_DSN is required when STORE_DRIVER=crdb")
		}
	case DriverMemory:
	default:
		return errors.Newf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RequestTTL <= 0 {
		return errors.New("REQUEST_TTL must be positive")
	}
	if c.SweepInterval <= 0 || c.OutboxInterval <= 0 {
		return errors.New("SWEEP_INTERVAL and OUTBOX_INTERVAL must be positive")
	}
	if c.SweepBatch <= 0 || c.OutboxBatch <= 0 {
		return errors.New("SWEEP_BATCH and OUTBOX_BATCH must be positive")
	}
	return nil
}
