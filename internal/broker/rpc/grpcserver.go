package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/gcp-broker/tokenbroker/internal/logger"
)

// GRPCServer wraps a grpc.Server registered with the Broker ServiceDesc plus
// the secondary HTTP health surface, following the same
// listen-in-goroutine / context-driven graceful-shutdown shape.
type GRPCServer struct {
	grpc       *grpc.Server
	health     *http.Server
	listenAddr string
	healthAddr string

	shutdownOnce sync.Once
}

// NewGRPCServer registers broker on a fresh grpc.Server and wires the
// health HTTP surface alongside it. listenAddr/healthAddr are ":port"
// style addresses.
func NewGRPCServer(broker *Server, checker HealthChecker, listenAddr, healthAddr string) *GRPCServer {
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, broker)

	return &GRPCServer{
		grpc:       grpcServer,
		health:     &http.Server{Addr: healthAddr, Handler: NewHealthRouter(checker)},
		listenAddr: listenAddr,
		healthAddr: healthAddr,
	}
}

// Start listens on both the gRPC and health addresses and blocks until ctx
// is cancelled or either listener fails. On cancellation it shuts both down
// gracefully.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", s.listenAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("broker grpc server listening", "addr", s.listenAddr)
		if err := s.grpc.Serve(lis); err != nil {
			select {
			case errCh <- fmt.Errorf("grpc server: %w", err):
			default:
			}
		}
	}()
	go func() {
		logger.Info("broker health server listening", "addr", s.healthAddr)
		if err := s.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- fmt.Errorf("health server: %w", err):
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("broker server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts down both listeners. Safe to call more than once.
func (s *GRPCServer) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.grpc.GracefulStop()
		if err := s.health.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("rpc: health server shutdown: %w", err)
			logger.Error("broker health server shutdown error", logger.Err(err))
			return
		}
		logger.Info("broker server stopped gracefully")
	})
	return shutdownErr
}
