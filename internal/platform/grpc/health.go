// Package grpc serves and probes the standard gRPC health service.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Health is a gRPC server exposing only the health service. The empty
// service name covers the whole process.
type Health struct {
	server   *gogrpc.Server
	health   *health.Server
	services []string
}

// NewHealth creates a health server reporting NOT_SERVING for the process and
// each named service until SetServing is called.
func NewHealth(services ...string) *Health {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	h := &Health{server: server, health: hs, services: append([]string{""}, services...)}
	h.SetServing(false)
	return h
}

// SetServing flips every registered service between SERVING and NOT_SERVING.
func (h *Health) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	for _, service := range h.services {
		h.health.SetServingStatus(service, status)
	}
}

// Serve blocks serving lis until Stop.
func (h *Health) Serve(lis net.Listener) error {
	if err := h.server.Serve(lis); err != nil && err != gogrpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and drains the server.
func (h *Health) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// Probe polls the health service at addr until service reports SERVING or
// ctx ends.
func Probe(ctx context.Context, addr, service string) error {
	conn, err := gogrpc.NewClient(addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := 100 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("probe %s: %w", addr, err)
			}
			return fmt.Errorf("probe %s: status %s: %w", addr, resp.GetStatus(), ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}
