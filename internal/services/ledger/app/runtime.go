// Package app wires the ledger process: storage, locking, the event bus, the
// reactor subscribers, billing, the HTTP API and the health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/ledger.space/internal/platform/cache"
	platformgrpc "github.com/louisbranch/ledger.space/internal/platform/grpc"
	"github.com/louisbranch/ledger.space/internal/platform/lock"
	"github.com/louisbranch/ledger.space/internal/platform/metrics"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/ledger/api/httpapi"
	"github.com/louisbranch/ledger.space/internal/services/ledger/billing"
	"github.com/louisbranch/ledger.space/internal/services/ledger/bus"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command/codec"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/gateway"
	"github.com/louisbranch/ledger.space/internal/services/ledger/reactor"
	"github.com/louisbranch/ledger.space/internal/services/ledger/service"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage/sqlite"
)

// HealthService is the gRPC health name reported once the runtime is ready.
const HealthService = "ledger.runtime"

// Cache backends accepted by RuntimeConfig.CacheBackend.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

const (
	defaultPort           = 8095
	defaultHTTPAddr       = ":8096"
	defaultDBPath         = "data/ledger.db"
	defaultOutboxInterval = 10 * time.Second
	defaultOutboxGrace    = 30 * time.Second
	outboxBatch           = 100
)

// RuntimeConfig controls ledger startup and background loops.
type RuntimeConfig struct {
	Port            int
	HTTPAddr        string
	DBPath          string
	CacheBackend    string
	RedisAddr       string
	LockTTL         time.Duration
	Workers         int
	QueueSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryMaxDelay   time.Duration
	BillingSchedule string
	Gateway         string
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	OutboxInterval  time.Duration
	OutboxGrace     time.Duration
}

func (c RuntimeConfig) normalized() (RuntimeConfig, error) {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case "":
		c.CacheBackend = CacheMemory
	case CacheMemory:
	case CacheRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return RuntimeConfig{}, errors.New("redis address is required for the redis cache backend")
		}
	default:
		return RuntimeConfig{}, fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if strings.TrimSpace(c.Gateway) == "" {
		c.Gateway = gateway.SandboxName
	}
	if c.OutboxInterval <= 0 {
		c.OutboxInterval = defaultOutboxInterval
	}
	if c.OutboxGrace <= 0 {
		c.OutboxGrace = defaultOutboxGrace
	}
	if strings.TrimSpace(c.AMQPURL) != "" && strings.TrimSpace(c.AMQPExchange) == "" {
		return RuntimeConfig{}, errors.New("amqp exchange is required when an amqp url is set")
	}
	return c, nil
}

// runtime holds the built components between startup and serve.
type runtime struct {
	cfg       RuntimeConfig
	store     *sqlite.Store
	bus       *bus.Bus
	relay     *bus.AMQPRelay
	engine    *engine.Engine
	scheduler *billing.Scheduler
	metrics   *metrics.Recorder
	handler   http.Handler
	closers   []func() error
}

// Run starts the ledger and blocks until ctx ends or a component fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	httpLis, err := net.Listen("tcp", rt.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on ledger http addr %s: %w", rt.cfg.HTTPAddr, err)
	}
	healthLis, err := net.Listen("tcp", fmt.Sprintf(":%d", rt.cfg.Port))
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen on ledger health port %d: %w", rt.cfg.Port, err)
	}
	return rt.serve(ctx, httpLis, healthLis)
}

func build(ctx context.Context, cfg RuntimeConfig) (_ *runtime, err error) {
	cfg, err = cfg.normalized()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger storage dir: %w", err)
		}
	}
	rt.store, err = sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger sqlite store: %w", err)
	}
	rt.closers = append(rt.closers, rt.store.Close)

	lockCache, err := rt.openCache(ctx)
	if err != nil {
		return nil, err
	}

	rt.metrics, err = metrics.NewRecorder("ledger", promclient.NewRegistry())
	if err != nil {
		return nil, err
	}
	mutex, err := lock.New(lockCache, lock.WithTTL(cfg.LockTTL), lock.WithObserver(rt.metrics))
	if err != nil {
		return nil, err
	}

	rt.bus = bus.New(bus.Config{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, bus.WithRecorder(rt.store), bus.WithOutbox(rt.store), bus.WithObserver(rt.metrics))

	var publisher engine.Publisher = rt.bus
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		rt.relay, err = bus.DialAMQP(bus.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
		}, rt.bus)
		if err != nil {
			return nil, fmt.Errorf("dial amqp broker: %w", err)
		}
		rt.closers = append(rt.closers, rt.relay.Close)
		publisher = rt.relay
	}

	rt.engine, err = engine.New(engine.Config{
		Store:     rt.store,
		Mutex:     mutex,
		Codec:     codec.New(),
		Modules:   engine.LedgerModules(),
		Publisher: publisher,
		Observer:  rt.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	gateways := gateway.NewRegistry()
	if err := gateways.Register(gateway.SandboxName, gateway.Sandbox{}); err != nil {
		return nil, err
	}
	if _, err := gateways.Lookup(cfg.Gateway); err != nil {
		return nil, fmt.Errorf("default gateway: %w", err)
	}
	if err := reactor.Register(rt.bus, reactor.Deps{Engine: rt.engine, Gateways: gateways}); err != nil {
		return nil, fmt.Errorf("register reactor: %w", err)
	}

	rt.scheduler, err = billing.New(rt.engine, publisher, billing.Config{
		Schedule: cfg.BillingSchedule,
		Gateway:  cfg.Gateway,
	})
	if err != nil {
		return nil, fmt.Errorf("build billing scheduler: %w", err)
	}

	svc, err := service.New(rt.engine, service.Config{DefaultGateway: cfg.Gateway})
	if err != nil {
		return nil, err
	}
	api, err := httpapi.NewHandler(svc)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/v1/", api)
	mux.Handle("/metrics", rt.metrics.Handler())
	rt.handler = mux
	return rt, nil
}

func (rt *runtime) openCache(ctx context.Context) (cache.Cache, error) {
	if rt.cfg.CacheBackend == CacheRedis {
		dialCtx, cancel := context.WithTimeout(ctx, timeouts.CacheOp)
		defer cancel()
		redisCache, client, err := cache.DialRedis(dialCtx, rt.cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect lock cache: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		return redisCache, nil
	}
	return cache.NewMemory(0)
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Printf("close ledger dependency: %v", err)
		}
	}
	rt.closers = nil
}

// serve runs every loop until ctx ends. The health service reports SERVING
// once every loop has been started.
func (rt *runtime) serve(ctx context.Context, httpLis, healthLis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.bus.Run(ctx) })
	if rt.relay != nil {
		g.Go(func() error { return rt.relay.Run(ctx) })
	}
	g.Go(func() error { return rt.scheduler.Run(ctx) })
	g.Go(func() error { return rt.sweepOutbox(ctx) })

	server := &http.Server{Handler: rt.handler, ReadHeaderTimeout: timeouts.ReadHeader}
	g.Go(func() error {
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve ledger http: %w", err)
		}
		return nil
	})

	healthServer := platformgrpc.NewHealth(HealthService)
	g.Go(func() error { return healthServer.Serve(healthLis) })

	g.Go(func() error {
		<-ctx.Done()
		healthServer.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown ledger http: %v", err)
		}
		healthServer.Stop()
		return nil
	})

	healthServer.SetServing(true)
	log.Printf("ledger http listening at %v", httpLis.Addr())
	log.Printf("ledger health listening at %v", healthLis.Addr())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sweepOutbox republishes events whose post-commit publish never completed.
func (rt *runtime) sweepOutbox(ctx context.Context) error {
	ticker := time.NewTicker(rt.cfg.OutboxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := rt.engine.RepublishPending(ctx, now.Add(-rt.cfg.OutboxGrace), outboxBatch)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("republish outbox: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("republished %d outbox events", n)
			}
		}
	}
}
