// Package ledger parses ledger command flags and launches the ledger runtime.
package ledger

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/ledger.space/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/ledger.space/internal/platform/grpc"
	"github.com/louisbranch/ledger.space/internal/services/ledger/app"
)

// Config holds ledger command configuration. Variable names carry the
// LEDGER_SPACE_ prefix.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8095"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8096"`
	DBPath          string        `env:"DB_PATH" envDefault:"data/ledger.db"`
	CacheBackend    string        `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"3m"`
	Workers         int           `env:"BUS_WORKERS" envDefault:"4"`
	QueueSize       int           `env:"BUS_QUEUE_SIZE" envDefault:"256"`
	MaxAttempts     int           `env:"BUS_MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff    time.Duration `env:"BUS_RETRY_BACKOFF" envDefault:"200ms"`
	RetryMaxDelay   time.Duration `env:"BUS_RETRY_MAX_DELAY" envDefault:"30s"`
	BillingSchedule string        `env:"BILLING_SCHEDULE" envDefault:"*/5 * * * *"`
	Gateway         string        `env:"GATEWAY" envDefault:"sandbox"`
	AMQPURL         string        `env:"AMQP_URL"`
	AMQPExchange    string        `env:"AMQP_EXCHANGE" envDefault:"ledger.events"`
	AMQPQueue       string        `env:"AMQP_QUEUE"`
	OutboxInterval  time.Duration `env:"OUTBOX_INTERVAL" envDefault:"10s"`
	OutboxGrace     time.Duration `env:"OUTBOX_GRACE" envDefault:"30s"`

	// Probe checks a running ledger's health instead of starting one.
	Probe        string        `env:"PROBE_ADDR"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ledger health gRPC server port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The ledger HTTP API and metrics address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The ledger SQLite database path")
	fs.StringVar(&cfg.CacheBackend, "cache", cfg.CacheBackend, "Lock cache backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis cache backend")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "Resource lock marker lifetime")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Event bus worker count")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Event bus queue capacity")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.StringVar(&cfg.BillingSchedule, "billing-schedule", cfg.BillingSchedule, "Cron schedule for subscription billing scans")
	fs.StringVar(&cfg.Gateway, "gateway", cfg.Gateway, "Default payment gateway")
	fs.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "AMQP broker URL; empty keeps events in process")
	fs.StringVar(&cfg.AMQPExchange, "amqp-exchange", cfg.AMQPExchange, "AMQP topic exchange for ledger events")
	fs.StringVar(&cfg.AMQPQueue, "amqp-queue", cfg.AMQPQueue, "AMQP queue bound to the exchange")
	fs.DurationVar(&cfg.OutboxInterval, "outbox-interval", cfg.OutboxInterval, "Outbox sweep interval")
	fs.DurationVar(&cfg.OutboxGrace, "outbox-grace", cfg.OutboxGrace, "Age before a pending outbox event is republished")
	fs.StringVar(&cfg.Probe, "probe", cfg.Probe, "Probe the health server at this address and exit")
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Health probe timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RuntimeConfig maps the command configuration onto the runtime.
func (c Config) RuntimeConfig() app.RuntimeConfig {
	return app.RuntimeConfig{
		Port:            c.Port,
		HTTPAddr:        c.HTTPAddr,
		DBPath:          c.DBPath,
		CacheBackend:    c.CacheBackend,
		RedisAddr:       c.RedisAddr,
		LockTTL:         c.LockTTL,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		MaxAttempts:     c.MaxAttempts,
		RetryBackoff:    c.RetryBackoff,
		RetryMaxDelay:   c.RetryMaxDelay,
		BillingSchedule: c.BillingSchedule,
		Gateway:         c.Gateway,
		AMQPURL:         c.AMQPURL,
		AMQPExchange:    c.AMQPExchange,
		AMQPQueue:       c.AMQPQueue,
		OutboxInterval:  c.OutboxInterval,
		OutboxGrace:     c.OutboxGrace,
	}
}

// Run starts the ledger runtime, or probes a running one when Probe is set.
func Run(ctx context.Context, cfg Config) error {
	if addr := strings.TrimSpace(cfg.Probe); addr != "" {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()
		if err := platformgrpc.Probe(probeCtx, addr, app.HealthService); err != nil {
			return fmt.Errorf("ledger health: %w", err)
		}
		return nil
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedger, func(ctx context.Context) error {
		return app.Run(ctx, cfg.RuntimeConfig())
	})
}
