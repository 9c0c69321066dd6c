// Command fleetdash-server accepts device reports and serves the live device listing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/config"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/registry"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/server"
)

var version = "dev"

type flags struct {
	configPath string
	listen     string
	interval   string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "fleetdash-server",
		Short:         "Collect device reports and serve their status",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultServerPath, "path to config file")
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address, e.g. :8000 (overrides config)")
	cmd.Flags().StringVar(&f.interval, "interval", "", "expected report interval devices are judged against (overrides config)")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	cfg, err := config.LoadServer(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.interval != "" {
		d, err := config.ParseDuration(f.interval)
		if err != nil {
			return fmt.Errorf("--interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", d)
		}
		cfg.ReportInterval = config.Duration(d)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	reg := registry.New(log.WithComponent("registry"))
	srv := server.New(reg, server.Options{
		Interval:     cfg.ReportInterval.Std(),
		MaxBodyBytes: cfg.MaxBodyBytes,
		ViewerToken:  cfg.ViewerToken,
	}, log.WithComponent("server"))

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	log.Info().
		Str("version", version).
		Str("listen", listener.Addr().String()).
		Dur("interval", cfg.ReportInterval.Std()).
		Bool("viewer_auth", cfg.ViewerToken != "").
		Msg("fleetdash-server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info().Int("devices", reg.Len()).Msg("fleetdash-server stopped")

	return nil
}
