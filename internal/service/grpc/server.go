package grpcsvc

import (
	"errors"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server — gRPC сервер back-office с health-сервисом.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer собирает gRPC сервер: OrderOps, health, reflection и метрики
// go-grpc-prometheus в registerer. Без registerer метрики не собираются.
func NewServer(svc OrderOpsServer, registerer prometheus.Registerer, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc-server")
	}

	var opts []grpc.ServerOption
	var grpcMetrics *promgrpc.ServerMetrics
	if registerer != nil {
		grpcMetrics = promgrpc.NewServerMetrics()
		if err := registerer.Register(grpcMetrics); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
					grpcMetrics = existing
				}
			} else {
				logger.WithError(err).Warn("failed to register grpc metrics")
			}
		}
		opts = append(opts, grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	}

	server := grpc.NewServer(opts...)
	RegisterOrderOpsServer(server, svc)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	if grpcMetrics != nil {
		grpcMetrics.InitializeMetrics(server)
	}

	return &Server{Server: server, Health: healthServer}
}

// Shutdown переводит health в NOT_SERVING и корректно останавливает сервер.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.GracefulStop()
}
