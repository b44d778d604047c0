package ledger

import (
	"context"
	"flag"
	"net"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/ledger.space/internal/platform/grpc"
	"github.com/louisbranch/ledger.space/internal/services/ledger/app"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	t.Setenv("LEDGER_SPACE_PORT", "9099")
	t.Setenv("LEDGER_SPACE_CACHE_BACKEND", "redis")
	t.Setenv("LEDGER_SPACE_REDIS_ADDR", "redis:6379")

	cfg, err := ParseConfig(fs, []string{"-max-attempts", "3", "-billing-schedule", "@every 1m"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.CacheBackend != "redis" || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("cache = %q %q", cfg.CacheBackend, cfg.RedisAddr)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BillingSchedule != "@every 1m" {
		t.Fatalf("billing schedule = %q", cfg.BillingSchedule)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/ledger.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.LockTTL != 3*time.Minute {
		t.Fatalf("lock ttl = %v, want 3m", cfg.LockTTL)
	}
	if cfg.BillingSchedule != "*/5 * * * *" {
		t.Fatalf("billing schedule = %q", cfg.BillingSchedule)
	}
	if cfg.Gateway != "sandbox" {
		t.Fatalf("gateway = %q, want sandbox", cfg.Gateway)
	}

	rt := cfg.RuntimeConfig()
	if rt.Workers != 4 || rt.QueueSize != 256 || rt.MaxAttempts != 5 {
		t.Fatalf("runtime bus config = %+v", rt)
	}
}

func TestRunProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	health := platformgrpc.NewHealth(app.HealthService)
	go func() { _ = health.Serve(lis) }()
	defer health.Stop()
	health.SetServing(true)

	err = Run(context.Background(), Config{Probe: lis.Addr().String(), ProbeTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestRunProbeFailsWhenNotServing(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	health := platformgrpc.NewHealth(app.HealthService)
	go func() { _ = health.Serve(lis) }()
	defer health.Stop()

	err = Run(context.Background(), Config{Probe: lis.Addr().String(), ProbeTimeout: 300 * time.Millisecond})
	if err == nil {
		t.Fatal("expected probe to fail while not serving")
	}
}
