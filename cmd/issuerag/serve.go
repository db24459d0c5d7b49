package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpserver "github.com/fyrsmithlabs/issuerag/internal/http"
	"github.com/fyrsmithlabs/issuerag/internal/services"
	"github.com/fyrsmithlabs/issuerag/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if host != "" {
				opts.serverHost = host
			}
			if port != 0 {
				opts.serverPort = port
			}
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.http_host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.http_port")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.serverHost != "" {
		cfg.Server.Host = opts.serverHost
	}
	if opts.serverPort != 0 {
		cfg.Server.Port = opts.serverPort
	}

	logger, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.ConfigFromApp(cfg.Observability, version), zl)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	reg, err := services.Build(ctx, cfg, zl, services.WithTracer(tel.Tracer("issuerag.retrieval")))
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			zl.Warn("closing services", zap.Error(err))
		}
	}()
	if sched := reg.Scheduler(); sched != nil {
		sched.Start(ctx)
	}

	srv, err := httpserver.NewServer(reg.Retrieval(), zl, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
