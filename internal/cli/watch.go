package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/viewer"
)

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of all devices",
		Long: `Open a terminal dashboard that follows the server's websocket feed.
When the feed is unavailable it polls the device listing every 2 seconds.

Key bindings:
  r           Refresh now
  q / Ctrl+C  Quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			p := tea.NewProgram(
				viewer.New(ctx, a.api, a.cfg.ServerURL),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)

			_, err := p.Run()

			return err
		},
	}
}
