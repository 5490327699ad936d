package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/tunez/guildradio/internal/config"
	"github.com/tunez/guildradio/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, external tools and the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, resolvedPath, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(out, "Config: ERROR - %v\n", err)
			return err
		}
		fmt.Fprintf(out, "Config: OK (%s)\n", resolvedPath)
		if n := runDoctor(cmd.Context(), out, cfg, exec.LookPath); n > 0 {
			return fmt.Errorf("%d problem(s) found", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor prints one line per check and returns the number of failures.
// Optional tools are reported but never fail.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, lookPath func(string) (string, error)) int {
	problems := 0
	tool := func(name, bin string, required bool, why string) {
		p, err := lookPath(bin)
		switch {
		case err == nil:
			fmt.Fprintf(w, "%s: OK (%s)\n", name, p)
		case required:
			fmt.Fprintf(w, "%s (%s): NOT FOUND\n", name, bin)
			problems++
		default:
			fmt.Fprintf(w, "%s (%s): NOT FOUND (optional, %s)\n", name, bin, why)
		}
	}
	tool("mpv", cfg.Audio.MPVPath, true, "")
	ytdlpBin := cfg.Providers.YtDLPPath
	if ytdlpBin == "" {
		ytdlpBin = "yt-dlp"
	}
	tool("yt-dlp", ytdlpBin, false, "needed for page URLs")
	tool("ffprobe", cfg.Providers.FFprobePath, false, "for local file durations")

	for _, root := range cfg.Providers.MusicRoots {
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			fmt.Fprintf(w, "Music root %s: MISSING\n", root)
			problems++
		} else {
			fmt.Fprintf(w, "Music root %s: OK\n", root)
		}
	}

	if cfg.Audio.Mode == "discord" {
		if cfg.Discord.Token == "" {
			fmt.Fprintln(w, "Discord token: MISSING (set DISCORD_TOKEN)")
			problems++
		} else {
			fmt.Fprintln(w, "Discord token: set")
		}
	}

	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		fmt.Fprintf(w, "Database (%s): ERROR - %v\n", cfg.Storage.Driver, err)
		return problems + 1
	}
	defer st.Close()
	v, err := st.Version(ctx)
	if err != nil {
		fmt.Fprintf(w, "Database (%s): reachable, schema unknown (%v); run migrate\n", cfg.Storage.Driver, err)
	} else {
		fmt.Fprintf(w, "Database (%s): OK, schema version %d\n", cfg.Storage.Driver, v)
	}
	return problems
}
