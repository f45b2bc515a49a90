package infrastructure

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const defaultHealthProbeInterval = 15 * time.Second

// HealthProbe returns nil while the dependency behind it is reachable.
type HealthProbe func(ctx context.Context) error

type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewGRPCServer listens on addr and serves grpc.health.v1.Health. Reflection
// is registered when enableReflection is set.
func NewGRPCServer(addr string, enableReflection bool) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	if enableReflection {
		reflection.Register(server)
	}

	return &GRPCServer{server: server, health: healthServer, lis: lis}, nil
}

func (g *GRPCServer) Addr() string {
	return g.lis.Addr().String()
}

func (g *GRPCServer) Start() error {
	logrus.WithField("addr", g.Addr()).Info("grpc server starting")
	err := g.server.Serve(g.lis)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// WatchHealth sets the overall serving status from probe until ctx is done.
func (g *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration, probe HealthProbe) {
	if interval <= 0 {
		interval = defaultHealthProbeInterval
	}

	check := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if probe != nil {
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := probe(probeCtx)
			cancel()
			if err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				logrus.WithError(err).Warn("health probe failed")
			}
		}
		g.health.SetServingStatus("", status)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Shutdown marks the server as not serving and stops it, forcing a stop when
// ctx ends first.
func (g *GRPCServer) Shutdown(ctx context.Context) error {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}
