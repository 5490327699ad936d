package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunez/guildradio/internal/config"
	"github.com/tunez/guildradio/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		v, err := st.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", cfg.Storage.Driver, v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
