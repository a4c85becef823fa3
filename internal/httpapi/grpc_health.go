package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"offboard.io/internal/obs"
)

// HealthServiceName is the service name reported over grpc.health.v1.
const HealthServiceName = "offboard"

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer answers grpc.health.v1 checks from the session store. The
// overall ("") and named service share one status.
type HealthServer struct {
	*health.Server
	store pinger
}

// NewHealthServer returns a health service backed by store.
func NewHealthServer(store pinger) *HealthServer {
	return &HealthServer{Server: health.NewServer(), store: store}
}

// Check pings the store before answering for the overall or named service.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc == "" || svc == HealthServiceName {
		s.refresh(ctx)
	}
	return s.Server.Check(ctx, req)
}

func (s *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		obs.Warn("grpc health: session store unavailable", map[string]any{"error": err.Error()})
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.SetServingStatus("", status)
	s.SetServingStatus(HealthServiceName, status)
}

// NewGRPCServer builds the gRPC listener's server with the health service
// registered.
func NewGRPCServer(store pinger) (*grpc.Server, *HealthServer) {
	hs := NewHealthServer(store)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
