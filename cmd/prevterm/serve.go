package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/KevoDB/prevterm/pkg/api"
	"github.com/KevoDB/prevterm/pkg/grpc/service"
	"github.com/KevoDB/prevterm/pkg/grpc/transport"
	"github.com/KevoDB/prevterm/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		noGRPC   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve term queries over HTTP and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.Close(closeCtx)
			}()

			if httpAddr != "" {
				a.cfg.HTTP.Addr = httpAddr
			}
			if grpcAddr != "" {
				a.cfg.GRPC.Addr = grpcAddr
			}
			return serve(ctx, a, !noGRPC)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides grpc.addr)")
	cmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "serve HTTP only")
	return cmd
}

// serve runs until ctx is canceled or a listener fails, then drains both
// servers
func serve(ctx context.Context, a *app, withGRPC bool) error {
	httpLogger := a.logger.WithField("component", telemetry.ComponentHTTP)
	handler := api.NewServer(a.service, a.registry,
		api.WithLogger(httpLogger),
		api.WithMetrics(a.metrics),
		api.WithRateLimit(a.cfg.HTTP.RatePerMinute, a.cfg.HTTP.Burst),
	).Handler()

	httpServer := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	var grpcServer *transport.Server
	if withGRPC {
		termServer := service.NewTermServer(a.service, a.registry,
			a.logger.WithField("component", telemetry.ComponentGRPC))
		grpcServer = transport.NewServer(a.cfg.GRPC, func(s grpc.ServiceRegistrar) {
			service.RegisterTermServiceServer(s, termServer)
		},
			transport.WithLogger(a.logger.WithField("component", telemetry.ComponentGRPC)),
			transport.WithTelemetry(a.tel),
		)
		if err := grpcServer.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		httpLogger.Info("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}
	if grpcServer != nil {
		grpcServer.Stop(shutdownCtx)
	}
	a.logger.Info("shutdown complete")
	return serveErr
}
