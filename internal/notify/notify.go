// Package notify describes the cards the radio posts and the interface that
// delivers them.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/provider"
)

type Kind string

const (
	KindNowPlaying    Kind = "now_playing"
	KindAdded         Kind = "added"
	KindQueue         Kind = "queue"
	KindQueueEmpty    Kind = "queue_empty"
	KindPlaybackError Kind = "playback_error"
	KindStatus        Kind = "status"
	KindError         Kind = "error"
)

// MaxQueueLines caps the queue listing; the rest is summarized.
const MaxQueueLines = 15

// UpNextCount is how many upcoming tracks a now-playing card shows.
const UpNextCount = 2

// FillerBadge marks autofill tracks in listings.
const FillerBadge = "  *(~filler~)*"

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Card is renderer-neutral content; adapters turn it into embeds or terminal boxes.
type Card struct {
	Kind         Kind
	Title        string
	Body         string
	URL          string
	ThumbnailURL string
	Fields       []Field
	Footer       string
	Timestamp    time.Time
}

// Notifier posts and deletes cards. Post returns a reference usable with Delete.
type Notifier interface {
	Post(ctx context.Context, guildID string, card Card) (string, error)
	Delete(ctx context.Context, guildID, ref string) error
}

func Badge(t provider.Track) string {
	if t.Autofill {
		return FillerBadge
	}
	return ""
}

// TitleLink renders a markdown link when the track has a page.
func TitleLink(t provider.Track) string {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = provider.UnknownTitle
	}
	if t.PageURL != "" {
		return fmt.Sprintf("**[%s](%s)**", title, t.PageURL)
	}
	return "**" + title + "**"
}

func ArtistLine(t provider.Track) string {
	artist := strings.TrimSpace(t.Artist)
	if artist == "" {
		artist = "Unknown"
	}
	return "*by " + artist + "*"
}

func Requester(t provider.Track) string {
	switch {
	case t.Autofill:
		return provider.AutofillRequester
	case t.RequesterID != "":
		return "<@" + t.RequesterID + ">"
	case t.RequesterName != "":
		return t.RequesterName
	}
	return "someone"
}

func DurationText(t provider.Track) string {
	d, ok := t.Duration()
	if !ok {
		return "Unknown"
	}
	return eta.Clock(d)
}

func requestedField(t provider.Track) Field {
	val := Requester(t)
	if t.RequestedAt > 0 {
		val += fmt.Sprintf(" at <t:%d:t>", t.RequestedAt)
	}
	return Field{Name: "Requested by", Value: val, Inline: true}
}

func NowPlaying(t provider.Track, upcoming []provider.Track) Card {
	c := Card{
		Kind:         KindNowPlaying,
		Title:        "🎵 Now Playing",
		Body:         TitleLink(t) + Badge(t) + "\n" + ArtistLine(t),
		URL:          t.PageURL,
		ThumbnailURL: t.ThumbnailURL,
		Fields: []Field{
			{Name: "Duration", Value: DurationText(t), Inline: true},
			requestedField(t),
		},
		Timestamp: time.Now(),
	}
	if len(upcoming) > 0 {
		c.Fields = append(c.Fields, Field{Name: "Up next", Value: UpcomingList(upcoming, UpNextCount)})
	}
	return c
}

func UpcomingList(tracks []provider.Track, limit int) string {
	if len(tracks) == 0 {
		return "—"
	}
	var lines []string
	for i, t := range tracks {
		if i >= limit {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s %s • requested by %s", i+1, TitleLink(t), Badge(t), ArtistLine(t), Requester(t)))
	}
	return strings.Join(lines, "\n")
}

// Added announces a newly queued track. position is 1-based; 0 omits it.
func Added(t provider.Track, position int, wait eta.Estimate) Card {
	c := Card{
		Kind:         KindAdded,
		Title:        "➕ Added",
		Body:         TitleLink(t) + Badge(t) + "\n" + ArtistLine(t),
		URL:          t.PageURL,
		ThumbnailURL: t.ThumbnailURL,
		Fields: []Field{
			{Name: "Duration", Value: DurationText(t), Inline: true},
			requestedField(t),
		},
		Timestamp: time.Now(),
	}
	if position >= 1 {
		c.Fields = append(c.Fields,
			Field{Name: "Position", Value: fmt.Sprintf("#%d", position), Inline: true},
			Field{Name: "Starts", Value: eta.Format(wait), Inline: true},
		)
	}
	return c
}

// AddedMany summarizes a multi-track add.
func AddedMany(tracks []provider.Track, firstPosition int, notice string) Card {
	var lines []string
	for i, t := range tracks {
		if i >= MaxQueueLines {
			lines = append(lines, fmt.Sprintf("… and **%d** more", len(tracks)-MaxQueueLines))
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s", firstPosition+i, TitleLink(t), Badge(t)))
	}
	if notice != "" {
		lines = append(lines, "", notice)
	}
	return Card{
		Kind:      KindAdded,
		Title:     fmt.Sprintf("➕ Added %d songs", len(tracks)),
		Body:      strings.Join(lines, "\n"),
		Timestamp: time.Now(),
	}
}

// QueueListing shows up to MaxQueueLines entries with their start estimates.
func QueueListing(tracks []provider.Track, waits []eta.Estimate) Card {
	if len(tracks) == 0 {
		return Card{Kind: KindQueue, Title: "📋 Queue", Body: "Queue is empty! Add songs with `/play`."}
	}
	var lines []string
	for i, t := range tracks {
		if i >= MaxQueueLines {
			break
		}
		line := fmt.Sprintf("%d. %s%s • requested by %s", i+1, TitleLink(t), Badge(t), Requester(t))
		if i < len(waits) {
			line += " • " + eta.Format(waits[i])
		}
		lines = append(lines, line)
	}
	if rest := len(tracks) - MaxQueueLines; rest > 0 {
		lines = append(lines, fmt.Sprintf("… and **%d** more in queue", rest))
	}
	return Card{Kind: KindQueue, Title: "📋 Current Queue", Body: strings.Join(lines, "\n")}
}

func QueueEmpty() Card {
	return Card{Kind: KindQueueEmpty, Title: "⏹️ Queue Empty", Body: "Finished playing! 🎉", Timestamp: time.Now()}
}

func PlaybackError(t provider.Track, err error) Card {
	return Card{
		Kind:  KindPlaybackError,
		Title: "❌ Playback Error",
		Body:  fmt.Sprintf("Failed to play %s: %v", strings.TrimSpace(t.Title), err),
	}
}

func Status(title, body string) Card {
	return Card{Kind: KindStatus, Title: title, Body: body}
}

func Error(body string) Card {
	return Card{Kind: KindError, Title: "❌ Error", Body: body}
}
