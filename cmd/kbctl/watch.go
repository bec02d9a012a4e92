package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowledged/internal/client"
	"github.com/fyrsmithlabs/knowledged/internal/monitor"
)

// watchInterval is the dashboard polling interval
var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "polling interval")
	rootCmd.AddCommand(watchCmd)
}

// watchCmd opens the live dashboard
var watchCmd = &cobra.Command{
	Use:   "watch TENANT",
	Short: "Open a live dashboard of a tenant's index",
	Long: `Open a live terminal dashboard of a tenant's index: vector count
history, per-section counts, the last operation and the recent journal.

Controls:
  r - Refresh now
  q - Quit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchInterval < time.Second {
			return fmt.Errorf("--interval must be at least 1s")
		}
		src := client.New(serverURL, client.WithTimeout(10*time.Second))
		p := tea.NewProgram(monitor.NewModel(src, args[0], watchInterval), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	},
}
