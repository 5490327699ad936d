// Package autofill keeps a guild's stream alive with filler tracks when the
// human queue runs dry.
package autofill

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

// Roster lists the users currently in the guild's audio channel.
type Roster interface {
	CurrentListeners(ctx context.Context, guildID string) ([]string, error)
}

// LikeSource returns locators of tracks the given users liked, most liked first.
type LikeSource interface {
	TopLikedFor(ctx context.Context, guildID string, userIDs []string, limit int) ([]string, error)
}

type Options struct {
	// FeatureEnabled is the global switch; guilds can only opt in when it is on.
	FeatureEnabled bool
	BatchSize      int
	PerListener    int
	Workers        int
	ResolveTimeout time.Duration
	Logger         *slog.Logger
	// Shuffle defaults to rand.Shuffle.
	Shuffle func(n int, swap func(i, j int))
}

type Engine struct {
	opts     Options
	roster   Roster
	likes    LikeSource
	resolver provider.Resolver
	fetcher  provider.SourceFetcher
	seeds    *Seeds
}

// Deps are the engine's collaborators. Roster, Likes, Fetcher and Seeds may be nil.
type Deps struct {
	Roster   Roster
	Likes    LikeSource
	Resolver provider.Resolver
	Fetcher  provider.SourceFetcher
	Seeds    *Seeds
}

func NewEngine(opts Options, deps Deps) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.PerListener <= 0 {
		opts.PerListener = 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Shuffle == nil {
		opts.Shuffle = rand.Shuffle
	}
	return &Engine{
		opts:     opts,
		roster:   deps.Roster,
		likes:    deps.Likes,
		resolver: deps.Resolver,
		fetcher:  deps.Fetcher,
		seeds:    deps.Seeds,
	}
}

func (e *Engine) FeatureEnabled() bool { return e.opts.FeatureEnabled }

// Eligible reports whether idle radio may run for the guild right now.
func (e *Engine) Eligible(ctx context.Context, guildID string, s guild.Autofill) bool {
	if !e.opts.FeatureEnabled || !s.Enabled {
		return false
	}
	if s.Configured() {
		return true
	}
	liked, err := e.likedCandidates(ctx, guildID, 1)
	if err != nil {
		e.opts.Logger.Debug("autofill liked lookup failed", slog.String("guild", guildID), slog.Any("err", err))
		return false
	}
	return len(liked) > 0
}

// Fill collects, resolves and tags one batch. An empty result is not an error.
func (e *Engine) Fill(ctx context.Context, guildID string, s guild.Autofill) ([]provider.Track, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("autofill: %w: no resolver", provider.ErrNotSupported)
	}
	batch := uuid.NewString()
	log := e.opts.Logger.With(slog.String("guild", guildID), slog.String("batch", batch))
	target := e.opts.BatchSize

	candidates, err := e.likedCandidates(ctx, guildID, target)
	if err != nil {
		log.Warn("autofill liked source failed", slog.Any("err", err))
	}
	if remaining := target - len(candidates); remaining > 0 {
		extra, err := e.sourceCandidates(ctx, s, remaining)
		if err != nil {
			log.Warn("autofill source fetch failed", slog.String("kind", string(s.SourceKind)), slog.Any("err", err))
		}
		candidates = append(candidates, extra...)
	}

	locators := validLocators(candidates)
	if len(locators) > target {
		locators = locators[:target]
	}
	if len(locators) == 0 {
		log.Info("autofill found nothing playable")
		return nil, nil
	}

	tracks := provider.ResolveAll(ctx, e.resolver, locators, provider.PoolOptions{
		Workers: e.opts.Workers,
		Timeout: e.opts.ResolveTimeout,
		Logger:  log,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.opts.Shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
	now := time.Now().Unix()
	for i := range tracks {
		tracks[i].Autofill = true
		tracks[i].RequesterID = ""
		tracks[i].RequesterName = provider.AutofillRequester
		tracks[i].RequestedAt = now
	}
	log.Info("autofill batch resolved", slog.Int("tracks", len(tracks)))
	return tracks, nil
}

// likedCandidates merges each present listener's liked tracks, shuffled per
// listener and capped at PerListener.
func (e *Engine) likedCandidates(ctx context.Context, guildID string, limit int) ([]string, error) {
	if e.roster == nil || e.likes == nil || limit <= 0 {
		return nil, nil
	}
	listeners, err := e.roster.CurrentListeners(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list listeners: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, user := range listeners {
		liked, err := e.likes.TopLikedFor(ctx, guildID, []string{user}, e.opts.PerListener*4)
		if err != nil {
			return out, fmt.Errorf("liked tracks for %s: %w", user, err)
		}
		e.opts.Shuffle(len(liked), func(i, j int) { liked[i], liked[j] = liked[j], liked[i] })
		if len(liked) > e.opts.PerListener {
			liked = liked[:e.opts.PerListener]
		}
		for _, loc := range liked {
			if seen[loc] {
				continue
			}
			seen[loc] = true
			out = append(out, loc)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (e *Engine) sourceCandidates(ctx context.Context, s guild.Autofill, limit int) ([]string, error) {
	var (
		list []string
		err  error
	)
	switch {
	case s.SourceKind == guild.SourceURL && s.SourceValue != "":
		if e.fetcher == nil {
			return nil, provider.ErrNotSupported
		}
		list, err = e.fetcher.Fetch(ctx, s.SourceValue, limit*2)
	case s.SourceKind == guild.SourceCSV && s.SourceValue != "":
		if e.seeds == nil {
			return nil, provider.ErrNotSupported
		}
		list, err = e.seeds.Get(s.SourceValue)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	list = validLocators(list)
	e.opts.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func validLocators(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, loc := range in {
		if !provider.ValidLocator(loc) || seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, loc)
	}
	return out
}
