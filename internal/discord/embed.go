package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/notify"
)

// Embed limits enforced by Discord.
const (
	maxDescription = 4096
	maxTitle       = 256
	maxFieldName   = 256
	maxFieldValue  = 1024
	maxFields      = 25
	maxFooter      = 2048
)

var kindColors = map[notify.Kind]int{
	notify.KindNowPlaying:    0x1DB954,
	notify.KindAdded:         0x3498DB,
	notify.KindQueue:         0x9B59B6,
	notify.KindQueueEmpty:    0x95A5A6,
	notify.KindPlaybackError: 0xE74C3C,
	notify.KindError:         0xE74C3C,
	notify.KindStatus:        0xF1C40F,
}

// Embed renders a card as a message embed within Discord's limits.
func Embed(c notify.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       truncate(c.Title, maxTitle),
		Description: truncate(c.Body, maxDescription),
		URL:         c.URL,
		Color:       kindColors[c.Kind],
	}
	if c.ThumbnailURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: c.ThumbnailURL}
	}
	for i, f := range c.Fields {
		if i >= maxFields {
			break
		}
		value := f.Value
		if value == "" {
			value = "—"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   truncate(f.Name, maxFieldName),
			Value:  truncate(value, maxFieldValue),
			Inline: f.Inline,
		})
	}
	if c.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: truncate(c.Footer, maxFooter)}
	}
	if !c.Timestamp.IsZero() {
		e.Timestamp = c.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
