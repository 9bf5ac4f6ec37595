// Package transport runs the gRPC server of the term service.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/config"
	"github.com/KevoDB/prevterm/pkg/telemetry"
)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the logger
func WithLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithTelemetry traces every call
func WithTelemetry(tel telemetry.Telemetry) ServerOption {
	return func(s *Server) { s.tel = tel }
}

// Server owns a grpc.Server and its listener
type Server struct {
	cfg      config.GRPCConfig
	register func(grpc.ServiceRegistrar)
	logger   log.Logger
	tel      telemetry.Telemetry

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	started  bool
}

// NewServer creates a server; register installs services on it
func NewServer(cfg config.GRPCConfig, register func(grpc.ServiceRegistrar), opts ...ServerOption) *Server {
	s := &Server{cfg: cfg, register: register}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Component(s.logger, telemetry.ComponentGRPC)
	s.tel = telemetry.OrNoop(s.tel)
	return s
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.cfg.TLSEnabled {
		tlsConfig, err := LoadServerTLSConfig(s.cfg.CertFile, s.cfg.KeyFile, s.cfg.CAFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	opts = append(opts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     s.cfg.MaxConnIdle,
			MaxConnectionAge:      5 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  s.cfg.KeepaliveTime,
			Timeout:               s.cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
	)
	if s.cfg.MaxStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.cfg.MaxStreams))
	}
	return opts, nil
}

// prepare builds the grpc.Server; the caller holds s.mu
func (s *Server) prepare(lis net.Listener) error {
	if s.started {
		return fmt.Errorf("server already started")
	}
	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	if lis == nil {
		lis, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
		}
	}

	s.server = grpc.NewServer(opts...)
	s.register(s.server)
	s.listener = lis
	s.started = true
	return nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	return s.StartListener(nil)
}

// StartListener serves on lis in the background; nil listens on the
// configured address
func (s *Server) StartListener(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepare(lis); err != nil {
		return err
	}
	server, listener := s.server, s.listener
	s.logger.Info("gRPC server listening on %s", listener.Addr())
	go func() {
		if err := server.Serve(listener); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve listens on the configured address and blocks until stopped
func (s *Server) Serve() error {
	s.mu.Lock()
	if err := s.prepare(nil); err != nil {
		s.mu.Unlock()
		return err
	}
	server, listener := s.server, s.listener
	s.mu.Unlock()

	s.logger.Info("gRPC server listening on %s", listener.Addr())
	return server.Serve(listener)
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight calls until ctx is done, then forces the stop
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.started = false
	return nil
}

func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	ctx, span := s.tel.StartSpan(ctx, info.FullMethod,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentGRPC))
	defer span.End()

	resp, err := handler(ctx, req)
	if err != nil {
		st, _ := status.FromError(err)
		span.SetStatus(otelcodes.Error, st.Message())
		span.SetAttributes(attribute.String(telemetry.AttrErrorType, st.Code().String()))
	}
	s.logger.Debug("%s %s in %s", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}
