package notify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/provider"
)

func TestQueueListingCapsLines(t *testing.T) {
	var tracks []provider.Track
	for i := 0; i < 20; i++ {
		tracks = append(tracks, provider.Track{Title: fmt.Sprintf("Song %d", i), RequesterName: "bob"})
	}
	tracks[3].Autofill = true
	c := QueueListing(tracks, nil)
	lines := strings.Split(c.Body, "\n")
	if len(lines) != MaxQueueLines+1 {
		t.Fatalf("expected %d lines got %d", MaxQueueLines+1, len(lines))
	}
	if lines[len(lines)-1] != "… and **5** more in queue" {
		t.Fatalf("unexpected tail %q", lines[len(lines)-1])
	}
	if !strings.Contains(lines[3], FillerBadge) || !strings.Contains(lines[3], provider.AutofillRequester) {
		t.Fatalf("autofill line should carry the badge: %q", lines[3])
	}
}

func TestQueueListingEmpty(t *testing.T) {
	c := QueueListing(nil, nil)
	if !strings.Contains(c.Body, "Queue is empty") {
		t.Fatalf("unexpected body %q", c.Body)
	}
}

func TestNowPlayingUpNext(t *testing.T) {
	cur := provider.Track{Title: "Now", Artist: "A", PageURL: "https://x/1", DurationMs: 61000, RequesterID: "42", RequestedAt: 100}
	up := []provider.Track{{Title: "n1"}, {Title: "n2"}, {Title: "n3"}}
	c := NowPlaying(cur, up)
	if c.Kind != KindNowPlaying {
		t.Fatalf("kind %s", c.Kind)
	}
	if !strings.HasPrefix(c.Body, "**[Now](https://x/1)**") {
		t.Fatalf("unexpected body %q", c.Body)
	}
	var upNext, duration, requested string
	for _, f := range c.Fields {
		switch f.Name {
		case "Up next":
			upNext = f.Value
		case "Duration":
			duration = f.Value
		case "Requested by":
			requested = f.Value
		}
	}
	if duration != "1:01" {
		t.Fatalf("duration %q", duration)
	}
	if requested != "<@42> at <t:100:t>" {
		t.Fatalf("requested %q", requested)
	}
	if strings.Count(upNext, "\n") != 1 || strings.Contains(upNext, "n3") {
		t.Fatalf("up next should list two entries: %q", upNext)
	}
}

func TestAddedWithPosition(t *testing.T) {
	c := Added(provider.Track{Title: "x"}, 3, eta.Estimate{Unknown: true})
	var pos, starts string
	for _, f := range c.Fields {
		if f.Name == "Position" {
			pos = f.Value
		}
		if f.Name == "Starts" {
			starts = f.Value
		}
	}
	if pos != "#3" || starts != "unknown" {
		t.Fatalf("unexpected fields %+v", c.Fields)
	}
}

func TestPlaybackErrorCard(t *testing.T) {
	c := PlaybackError(provider.Track{Title: "bad"}, errors.New("no stream"))
	if c.Body != "Failed to play bad: no stream" {
		t.Fatalf("unexpected body %q", c.Body)
	}
}
