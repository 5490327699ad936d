package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunez/guildradio/internal/console"
	"github.com/tunez/guildradio/internal/httpapi"
)

var (
	monitorAddr     string
	monitorGuild    string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Follow a running radio's queue in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		theme := console.GetTheme("radio", os.Getenv("NO_COLOR") != "")
		return console.RunMonitor(cmd.Context(), httpapi.NewClient(monitorAddr), theme, monitorGuild, monitorInterval)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "http://127.0.0.1:8090", "base URL of the status API")
	monitorCmd.Flags().StringVar(&monitorGuild, "guild", "", "guild to show first")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", console.DefaultPollInterval, "poll interval")
	rootCmd.AddCommand(monitorCmd)
}
