// Package playback runs one scheduler per guild: it dequeues tracks, opens
// them on the audio pipeline, reacts to completion events and hands idle
// guilds to autofill.
package playback

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/provider"
)

// Tuning is passed to the pipeline when a track is opened.
type Tuning struct {
	// Gain is the level the sink should settle at, 1.0 = 100%.
	Gain float64
	// StartMuted asks the sink to start silent; the scheduler raises the gain.
	StartMuted bool
}

// Sink is a live audio stream. Done yields exactly once: nil at end of stream
// or after Stop, an error if playback failed.
type Sink interface {
	SetGain(level float64) error
	Stop() error
	Done() <-chan error
}

// Pipeline opens audio locators into sinks. Open must fail fast.
type Pipeline interface {
	Open(ctx context.Context, guildID, audioRef string, tuning Tuning) (Sink, error)
}

// History records plays; implementations must tolerate being called from
// many guilds at once.
type History interface {
	RecordPlayStart(ctx context.Context, guildID string, t provider.Track) (int64, error)
	RecordPlayEnd(ctx context.Context, playID int64) error
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhasePlaying
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhasePlaying:
		return "playing"
	case PhaseStopping:
		return "stopping"
	}
	return "idle"
}

type Options struct {
	FadeIn          bool
	FadeInDuration  time.Duration
	FadeOutDuration time.Duration
	FadeSteps       int
	Prebuffer       time.Duration
	OpenTimeout     time.Duration
	AutofillDelay   time.Duration
	FillTimeout     time.Duration
	// NowPlayingRetention is how many songs a filler card survives.
	NowPlayingRetention int
	NowPlayingLogSize   int
	ResolveWorkers      int
	ResolveTimeout      time.Duration
	SaveTimeout         time.Duration
	Logger              *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.FadeSteps <= 0 {
		o.FadeSteps = 20
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 20 * time.Second
	}
	if o.AutofillDelay < 0 {
		o.AutofillDelay = 0
	}
	if o.NowPlayingRetention <= 0 {
		o.NowPlayingRetention = 3
	}
	if o.NowPlayingLogSize <= 0 {
		o.NowPlayingLogSize = 100
	}
	if o.ResolveWorkers <= 0 {
		o.ResolveWorkers = 4
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = 30 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Deps are shared by every guild. History, OnStart and DeleteLimiter are optional.
type Deps struct {
	Pipeline Pipeline
	Notifier notify.Notifier
	Store    guild.Store
	Resolver provider.Resolver
	Autofill *autofill.Engine
	History  History
	// DeleteLimiter paces deletion of stale now-playing cards.
	DeleteLimiter *rate.Limiter
	// OnStart observes every playback start.
	OnStart func(guildID string, t provider.Track)
}
