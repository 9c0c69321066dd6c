// Package cli implements the fleetctl command tree.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/client"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/config"
)

// Version is set at build time via -ldflags "-X .../internal/cli.Version=x.y.z".
var Version = "dev"

const requestTimeout = 10 * time.Second

// ClientFactory builds the API client once flags and config are resolved.
type ClientFactory func(serverURL, token string) client.API

type app struct {
	// flags
	cfgFile string
	output  string
	server  string
	token   string

	// resolved in PersistentPreRunE
	cfg       *config.CtlConfig
	api       client.API
	formatter Formatter

	newClient ClientFactory
}

// NewRootCommand builds the fleetctl root. A nil factory talks HTTP to the configured server.
func NewRootCommand(newClient ClientFactory) *cobra.Command {
	if newClient == nil {
		newClient = func(serverURL, token string) client.API {
			return client.New(serverURL, token)
		}
	}

	a := &app{newClient: newClient}

	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Inspect devices reporting to a fleetdash server",
		Long: `fleetctl queries a fleetdash server for the devices that report to it,
their latest metrics and whether they are online.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.fleetdash/fleetctl.yaml)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", `output format: table, json, yaml (default "table")`)
	root.PersistentFlags().StringVar(&a.server, "server", "", "fleetdash server URL")
	root.PersistentFlags().StringVar(&a.token, "token", "", "viewer token, if the server requires one")

	root.AddCommand(
		a.devicesCommand(),
		a.healthCommand(),
		a.watchCommand(),
		a.versionCommand(),
	)

	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultCtlPath()
	}

	cfg, err := config.LoadCtl(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if a.server != "" {
		cfg.ServerURL = a.server
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.output != "" {
		cfg.Output = a.output
	}

	formatter, err := NewFormatter(cfg.Output)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.formatter = formatter
	a.api = a.newClient(cfg.ServerURL, cfg.Token)

	return nil
}

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls", "list"},
		Short:   "List known devices with their latest metrics and status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			listing, err := a.api.ListDevices(ctx)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			out, err := a.formatter.Format(listing)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), out)

			return nil
		},
	}
}

func (a *app) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if err := a.api.Health(ctx); err != nil {
				return fmt.Errorf("server %s unhealthy: %w", a.cfg.ServerURL, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.cfg.ServerURL)

			return nil
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the fleetctl version",
		Args:  cobra.NoArgs,
		// no server or config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetctl version %s\n", Version)
		},
	}
}
