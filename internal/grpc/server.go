package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "revenuemonkey.executor"

// Evaluator reports dependency health; internal/health.HealthServer satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context) (bool, map[string]string)
}

// Server exposes the standard gRPC health service. Status follows the
// registered dependency checks and is refreshed every interval.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	checker    Evaluator
	interval   time.Duration
	startTime  time.Time

	stopOnce sync.Once
	stop     chan struct{}
	log      *zap.SugaredLogger
}

func NewServer(checker Evaluator, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		checker:    checker,
		interval:   interval,
		startTime:  time.Now(),
		stop:       make(chan struct{}),
		log:        logger.For(logger.ComponentGRPC),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.Refresh(context.Background())
	go s.watch()

	s.log.Infof("gRPC health server listening on: %s", addr)
	return s.grpcServer.Serve(lis)
}

// Refresh re-evaluates dependencies and publishes the serving status.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		healthy, results := s.checker.Evaluate(ctx)
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Warnf("Dependencies unhealthy: %v", results)
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Refresh(ctx)
			cancel()
		}
	}
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		s.log.Infof("gRPC health server stopped (uptime: %.0fs)", s.Uptime().Seconds())
	})
}
