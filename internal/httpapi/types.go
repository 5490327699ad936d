package httpapi

import (
	"time"

	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

type Health struct {
	Status string   `json:"status"`
	Guilds []string `json:"guilds"`
}

type TrackStatus struct {
	Position   int    `json:"position,omitempty"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Locator    string `json:"locator"`
	Requester  string `json:"requester,omitempty"`
	Autofill   bool   `json:"autofill,omitempty"`
	// StartsInMs is the estimated wait; nil when a duration ahead is unknown.
	StartsInMs *int64 `json:"starts_in_ms,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
}

type QueueStatus struct {
	GuildID  string        `json:"guild_id"`
	Phase    string        `json:"phase"`
	Autofill string        `json:"autofill"`
	Volume   int           `json:"volume"`
	Current  *TrackStatus  `json:"current,omitempty"`
	Queue    []TrackStatus `json:"queue"`
}

type EnqueueRequest struct {
	Locators      []string `json:"locators"`
	RequesterID   string   `json:"requester_id"`
	RequesterName string   `json:"requester_name"`
}

type EnqueueResponse struct {
	Added         []TrackStatus `json:"added"`
	FirstPosition int           `json:"first_position,omitempty"`
	Notice        string        `json:"notice,omitempty"`
	Denied        bool          `json:"denied,omitempty"`
	PurgedFiller  int           `json:"purged_filler,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func trackStatus(t provider.Track) TrackStatus {
	requester := t.RequesterName
	if requester == "" {
		requester = t.RequesterID
	}
	if t.Autofill {
		requester = provider.AutofillRequester
	}
	return TrackStatus{
		Title:      t.Title,
		Artist:     t.Artist,
		DurationMs: t.DurationMs,
		Locator:    t.Locator(),
		Requester:  requester,
		Autofill:   t.Autofill,
	}
}

// queueStatus pairs every queued track with its start estimate.
func queueStatus(v guild.View, phase, autofill string, now time.Time) QueueStatus {
	qs := QueueStatus{
		GuildID:  v.GuildID,
		Phase:    phase,
		Autofill: autofill,
		Volume:   v.Settings.Volume,
		Queue:    make([]TrackStatus, 0, len(v.Queue)),
	}
	if v.Current != nil {
		cur := trackStatus(*v.Current)
		if !v.StartedAt.IsZero() {
			cur.ElapsedMs = now.Sub(v.StartedAt).Milliseconds()
		}
		qs.Current = &cur
	}
	waits := eta.AllSlots(v, now)
	for i, t := range v.Queue {
		ts := trackStatus(t)
		ts.Position = i + 1
		if !waits[i].Unknown {
			ms := waits[i].Wait.Milliseconds()
			ts.StartsInMs = &ms
		}
		qs.Queue = append(qs.Queue, ts)
	}
	return qs
}
