package grpc

import (
	"context"
	"time"

	"github.com/oriys/relay/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// NewServer builds a *grpc.Server with the HandlerServiceServer registered
// plus a standard gRPC health service (grpc_health_v1, a pre-generated
// package shipped with google.golang.org/grpc — used here as the liveness
// probe surface a daemon in this corpus would expose for k8s readiness
// checks), wired through the same logging/error interceptors the teacher
// uses in internal/grpc/interceptors.go.
func NewServer(srv HandlerServiceServer) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor, errorHandlingInterceptor),
	)
	RegisterHandlerServiceServer(s, srv)

	health := health.NewServer()
	health.SetServingStatus(handlerServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, health)

	return s
}

// loggingInterceptor logs every unary RPC, grounded on the teacher's
// internal/grpc/interceptors.go loggingInterceptor.
func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)
	if err != nil {
		logging.Op().Error("grpc request failed", "method", info.FullMethod, "duration", duration, "error", err)
	} else {
		logging.Op().Info("grpc request completed", "method", info.FullMethod, "duration", duration)
	}
	return resp, err
}

// errorHandlingInterceptor converts bare errors to gRPC status errors,
// grounded on the teacher's errorHandlingInterceptor.
func errorHandlingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}
