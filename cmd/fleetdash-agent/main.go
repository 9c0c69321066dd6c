// Command fleetdash-agent samples this device and reports to a fleetdash server on a fixed cadence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/agent"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/collector"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/config"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/reporter"
)

var version = "dev"

type flags struct {
	configPath string
	server     string
	interval   string
	deviceID   string
	deviceKind string
	once       bool
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
		Use:           "fleetdash-agent",
		Short:         "Report this device's metrics to a fleetdash server",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultAgentPath, "path to config file")
	cmd.Flags().StringVar(&f.server, "server", "", "server base URL (overrides config)")
	cmd.Flags().StringVar(&f.interval, "interval", "", "report interval, e.g. 10s or 10 (overrides config)")
	cmd.Flags().StringVar(&f.deviceID, "device-id", "", "device id (default: derived from machine-id)")
	cmd.Flags().StringVar(&f.deviceKind, "device-kind", "", "device kind: host or container (default: detected)")
	cmd.Flags().BoolVar(&f.once, "once", false, "collect one snapshot, print it as JSON and exit")

	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := config.LoadAgent(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.deviceID != "" {
		cfg.DeviceID = f.deviceID
	}
	if f.deviceKind != "" {
		cfg.DeviceKind = f.deviceKind
	}
	if f.interval != "" {
		d, err := config.ParseDuration(f.interval)
		if err != nil {
			return fmt.Errorf("--interval: %w", err)
		}
		cfg.Interval = config.Duration(d)
	}

	requested := cfg.Interval.Std()
	cfg.Normalize()

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if requested < cfg.Interval.Std() {
		log.Warn().
			Dur("requested", requested).
			Dur("using", cfg.Interval.Std()).
			Msg("Interval below minimum, clamped")
	}

	col := collector.New(collector.Options{
		DeviceID:   cfg.DeviceID,
		DeviceKind: cfg.DeviceKind,
		DiskPath:   cfg.DiskPath,
		CPUWindow:  cfg.CPUSampleWindow.Std(),
	}, log.WithComponent("collector"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.once {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(col.Collect(ctx))
	}

	rep := reporter.New(cfg.ServerURL, cfg.Timeout.Std(), log.WithComponent("reporter"))
	loop := agent.New(col, rep, cfg.Interval.Std(), log.WithComponent("agent"))

	log.Info().
		Str("version", version).
		Str("device_id", col.DeviceID()).
		Str("server", rep.URL()).
		Dur("interval", cfg.Interval.Std()).
		Msg("fleetdash-agent starting")

	start := time.Now()

	err = loop.Run(ctx)

	stats := rep.Stats()
	log.Info().
		Uint64("sent", stats.Sent).
		Uint64("failed", stats.Failed).
		Dur("uptime", time.Since(start)).
		Msg("fleetdash-agent stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
