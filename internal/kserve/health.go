package kserve

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthProbe queries the standard gRPC health service exposed next to
// the model server's gRPC inference port.
type GRPCHealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	logger  *zap.Logger
}

// DialHealthProbe connects lazily to addr. An empty service name asks for the
// overall server status.
func DialHealthProbe(ctx context.Context, addr, service string, logger *zap.Logger) (*GRPCHealthProbe, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial health probe %s: %w", addr, err)
	}
	return &GRPCHealthProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		logger:  logger.Named("grpc_health_probe"),
	}, nil
}

// Ready returns nil when the remote reports SERVING.
func (p *GRPCHealthProbe) Ready(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		p.logger.Warn("health check failed", zap.Error(err))
		return &ServiceError{Err: err}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return &ServiceError{Err: fmt.Errorf("grpc health status %s", resp.GetStatus())}
	}
	return nil
}

// Close releases the underlying connection.
func (p *GRPCHealthProbe) Close() error {
	return p.conn.Close()
}
