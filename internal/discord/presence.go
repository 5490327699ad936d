package discord

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

const (
	PresenceInterval  = 30 * time.Second
	maxActivityLength = 128
)

// NowPlayingSource reports the most recently started track still playing.
type NowPlayingSource interface {
	NowPlaying() (guild.View, bool)
}

// Presence shows the current song as the bot's listening activity.
type Presence struct {
	s        *discordgo.Session
	source   NowPlayingSource
	interval time.Duration
	log      *slog.Logger

	last string
}

func NewPresence(s *discordgo.Session, source NowPlayingSource, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{s: s, source: source, interval: PresenceInterval, log: logger}
}

// Run updates the activity every interval until ctx ends.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.update()
		}
	}
}

func (p *Presence) update() {
	line := ""
	if v, ok := p.source.NowPlaying(); ok {
		line = presenceLine(v, time.Now())
	}
	if line == p.last {
		return
	}
	data := discordgo.UpdateStatusData{Status: string(discordgo.StatusOnline)}
	if line != "" {
		data.Activities = []*discordgo.Activity{{Name: line, Type: discordgo.ActivityTypeListening}}
	}
	if err := p.s.UpdateStatusComplex(data); err != nil {
		p.log.Debug("presence update failed", slog.Any("err", err))
		return
	}
	p.last = line
}

// presenceLine renders "🎵 title - elapsed / total", cut to Discord's limit.
func presenceLine(v guild.View, now time.Time) string {
	if v.Current == nil {
		return ""
	}
	title := v.Current.Title
	if title == "" {
		title = provider.UnknownTitle
	}
	elapsed := time.Duration(0)
	if !v.StartedAt.IsZero() {
		elapsed = now.Sub(v.StartedAt)
	}
	total, _ := v.Current.Duration()
	line := "🎵 " + title + " - " + eta.Clock(elapsed) + " / " + eta.Clock(total)
	r := []rune(line)
	if len(r) > maxActivityLength {
		line = string(r[:maxActivityLength])
	}
	return line
}
