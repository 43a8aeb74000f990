package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/koomind/koomind-backend/internal/config"
)

// healthService is the service name reported alongside the overall ("")
// status.
const healthService = "koomind.Messenger"

type dependencyCheck struct {
	name string
	dep  pinger
}

// healthMonitor keeps the gRPC health status in sync with the reachability
// of the database and the room bus.
type healthMonitor struct {
	srv      *health.Server
	checks   []dependencyCheck
	interval time.Duration
	logger   *log.Logger
}

func newHealthMonitor(logger *log.Logger, interval time.Duration, checks ...dependencyCheck) *healthMonitor {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &healthMonitor{
		srv:      srv,
		checks:   checks,
		interval: interval,
		logger:   logger.WithPrefix("health"),
	}
}

// check pings every dependency once and publishes the combined status.
func (m *healthMonitor) check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, c := range m.checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.dep.Ping(pingCtx)
		cancel()
		if err != nil {
			m.logger.Warn("dependency unreachable", "dependency", c.name, "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	m.srv.SetServingStatus("", status)
	m.srv.SetServingStatus(healthService, status)
	return status
}

// run checks immediately and then every interval until ctx is done, at which
// point every service is reported as not serving.
func (m *healthMonitor) run(ctx context.Context) {
	m.check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// newGRPCServer builds the operational gRPC server. It serves TLS when a
// certificate is configured.
func newGRPCServer(cfg *config.Config, monitor *healthMonitor) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, monitor.srv)
	reflection.Register(srv)
	return srv, nil
}
