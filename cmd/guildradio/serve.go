package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tunez/guildradio/internal/audio"
	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/config"
	"github.com/tunez/guildradio/internal/console"
	"github.com/tunez/guildradio/internal/discord"
	"github.com/tunez/guildradio/internal/httpapi"
	"github.com/tunez/guildradio/internal/logging"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/playback"
	"github.com/tunez/guildradio/internal/provider"
	"github.com/tunez/guildradio/internal/providers/filesystem"
	"github.com/tunez/guildradio/internal/providers/ytdlp"
	"github.com/tunez/guildradio/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the radio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, resolvedPath, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, logFile, err := logging.Setup(cfg.Logging, cfg.LogLevel())
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		defer logFile.Close()
		slog.SetDefault(logger)
		logger.Info("starting guildradio",
			slog.String("version", version),
			slog.String("config", resolvedPath),
			slog.String("mode", cfg.Audio.Mode))
		if err := serve(cmd.Context(), cfg, logger); err != nil {
			logger.Error("serve", slog.Any("err", err))
			return err
		}
		logger.Info("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type providers struct {
	resolver provider.Chain
	fetcher  provider.FetchChain
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (providers, error) {
	local, err := filesystem.New(filesystem.Options{
		Roots:       cfg.Providers.MusicRoots,
		FFprobePath: cfg.Providers.FFprobePath,
		Logger:      logger,
	})
	if err != nil {
		return providers{}, fmt.Errorf("filesystem provider: %w", err)
	}
	yt := ytdlp.New(ytdlp.Options{
		Executable: cfg.Providers.YtDLPPath,
		Format:     cfg.Providers.YtDLPFormat,
		Logger:     logger,
	})
	return providers{
		resolver: provider.Chain{Local: local, Remote: yt},
		fetcher:  provider.FetchChain{Local: local, Remote: yt},
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	provs, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}

	seeds, err := autofill.NewSeeds(logger)
	if err != nil {
		return err
	}
	defer seeds.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		seeds.Run(ctx)
		return nil
	})

	discordMode := audio.Mode(cfg.Audio.Mode) == audio.ModeDiscord

	var (
		session  *discordgo.Session
		voice    *discord.Voice
		roster   *discord.Roster
		cards    *discord.Notifier
		notifier notify.Notifier
		packets  audio.PacketRouter
	)
	if discordMode {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return fmt.Errorf("discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		voice = discord.NewVoice(session, logger)
		roster = discord.NewRoster(session)
		cards = discord.NewNotifier(session, cfg.NotifyChannel)
		notifier = cards
		packets = voice
	} else {
		notifier = console.NewNotifier(os.Stdout, console.GetTheme("radio", os.Getenv("NO_COLOR") != ""))
	}

	pipeline, err := audio.NewPipeline(audio.Options{
		Mode:      audio.Mode(cfg.Audio.Mode),
		MPVPath:   cfg.Audio.MPVPath,
		IPCDir:    cfg.Audio.IPCDir,
		ExtraArgs: cfg.Audio.ExtraArgs,
		Bitrate:   cfg.Audio.Bitrate,
		Packets:   packets,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	autofillDeps := autofill.Deps{
		Likes:    st,
		Resolver: provs.resolver,
		Fetcher:  provs.fetcher,
		Seeds:    seeds,
	}
	if roster != nil {
		autofillDeps.Roster = roster
	}
	engine := autofill.NewEngine(autofill.Options{
		FeatureEnabled: cfg.AutofillFeature(),
		BatchSize:      cfg.Autofill.MaxPull,
		PerListener:    cfg.Autofill.PerListener,
		Workers:        cfg.Autofill.Workers,
		ResolveTimeout: cfg.ResolveTimeout(),
		Logger:         logger,
	}, autofillDeps)

	mgr := playback.NewManager(ctx, playback.Options{
		FadeIn:              cfg.Playback.FadeIn,
		FadeInDuration:      cfg.FadeInDuration(),
		FadeOutDuration:     cfg.FadeOutDuration(),
		FadeSteps:           cfg.Playback.FadeSteps,
		Prebuffer:           cfg.Prebuffer(),
		OpenTimeout:         cfg.OpenTimeout(),
		AutofillDelay:       cfg.AutofillDelay(),
		FillTimeout:         cfg.FillTimeout(),
		NowPlayingRetention: cfg.Playback.NowPlayingRetention,
		ResolveWorkers:      cfg.Playback.ResolveWorkers,
		ResolveTimeout:      cfg.ResolveTimeout(),
		Logger:              logger,
	}, playback.Deps{
		Pipeline:      pipeline,
		Notifier:      notifier,
		Store:         st,
		Resolver:      provs.resolver,
		Autofill:      engine,
		History:       st,
		DeleteLimiter: rate.NewLimiter(rate.Limit(cfg.Playback.CardDeletesPerSec), 1),
		OnStart: func(guildID string, t provider.Track) {
			logger.Info("now playing",
				slog.String("guild", guildID),
				slog.String("title", t.Title),
				slog.String("artist", t.Artist),
				slog.Bool("autofill", t.Autofill))
		},
	}, cfg.GuildSettings)
	defer mgr.Close()

	restoreGuilds(ctx, mgr, st, logger)

	if discordMode {
		router := discord.NewRouter(session, mgr, cards, voice, roster, st, discord.Options{
			GuildIDs:        cfg.Discord.GuildIDs,
			AdminRoleIDs:    cfg.Discord.AdminRoleIDs,
			AutofillFeature: cfg.AutofillFeature(),
			AutofillDelay:   cfg.AutofillDelay(),
			Fetcher:         provs.fetcher,
			Logger:          logger,
		})
		router.Handlers()
		if err := session.Open(); err != nil {
			return fmt.Errorf("discord gateway: %w", err)
		}
		defer session.Close()
		defer voice.Close()
		if err := router.Register(); err != nil {
			return err
		}
		logger.Info("discord connected", slog.String("user", session.State.User.Username))

		presence := discord.NewPresence(session, mgr, logger)
		g.Go(func() error {
			presence.Run(ctx)
			return nil
		})
	}

	if cfg.HTTP.Addr != "" {
		api := httpapi.New(httpapi.Options{
			Addr:   cfg.HTTP.Addr,
			Token:  cfg.HTTP.Token,
			Logger: logger,
		}, httpapi.ManagerSessions{Manager: mgr})
		g.Go(func() error { return api.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}

// restoreGuilds loads every saved snapshot so queues survive restarts.
func restoreGuilds(ctx context.Context, mgr *playback.Manager, st *store.Store, logger *slog.Logger) {
	ids, err := st.SavedGuilds(ctx)
	if err != nil {
		logger.Warn("list saved guilds", slog.Any("err", err))
		return
	}
	for _, id := range ids {
		if _, err := mgr.Guild(ctx, id); err != nil {
			logger.Warn("restore guild", slog.String("guild", id), slog.Any("err", err))
		}
	}
	if len(ids) > 0 {
		logger.Info("restored guilds", slog.Int("count", len(ids)))
	}
}
