package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:     "guildradio",
	Short:   "guildradio is a shared music radio for Discord guilds.",
	Version: version,
	// cobra prints usage on every RunE error otherwise
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: ~/.config/guildradio/config.toml)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
