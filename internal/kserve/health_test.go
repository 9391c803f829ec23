package kserve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	probe, err := DialHealthProbe(ctx, listener.Addr().String(), "", zap.NewNop())
	require.NoError(t, err)
	defer probe.Close()

	require.NoError(t, probe.Ready(ctx))

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	err = probe.Ready(ctx)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
}
