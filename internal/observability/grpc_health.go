package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service so
// orchestrators can probe the gateway without HTTP
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	checks   map[string]HealthCheckFunc
}

// NewGRPCHealthServer listens on port. Readiness checks are evaluated by
// Refresh.
func NewGRPCHealthServer(port string, checks map[string]HealthCheckFunc) (*GRPCHealthServer, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC health: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealthServer{
		server:   srv,
		health:   hs,
		listener: lis,
		checks:   checks,
	}, nil
}

// Addr returns the bound listener address
func (g *GRPCHealthServer) Addr() net.Addr {
	return g.listener.Addr()
}

// Serve blocks serving health RPCs, refreshing readiness every interval
// until ctx is done
func (g *GRPCHealthServer) Serve(ctx context.Context, interval time.Duration) error {
	logger := WithComponent("grpc_health")

	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()

	logger.Info().Str("addr", g.listener.Addr().String()).Msg("gRPC health service listening")
	if err := g.server.Serve(g.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Refresh sets the overall and per-dependency serving status
func (g *GRPCHealthServer) Refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	deps, allHealthy := RunChecks(checkCtx, g.checks)
	for name, dep := range deps {
		g.health.SetServingStatus(name, servingStatus(dep.Status == "healthy"))
	}
	g.health.SetServingStatus("", servingStatus(allHealthy))
}

// Stop marks the service as not serving and drains in-flight RPCs
func (g *GRPCHealthServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
