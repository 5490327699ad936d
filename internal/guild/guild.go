// Package guild holds the per-guild settings and the read-only and persisted
// shapes of a guild's queue state.
package guild

import (
	"context"
	"time"

	"github.com/tunez/guildradio/internal/provider"
)

type SourceKind string

const (
	SourceNone SourceKind = "none"
	SourceURL  SourceKind = "url"
	SourceCSV  SourceKind = "csv"
)

type RateLimit struct {
	Enabled    bool `json:"enabled"`
	MaxPerAdd  int  `json:"max_per_add"`
	MaxPerUser int  `json:"max_per_user"`
}

type Autofill struct {
	Enabled     bool       `json:"enabled"`
	SourceKind  SourceKind `json:"source_kind"`
	SourceValue string     `json:"source_value,omitempty"`
}

// Configured reports whether an explicit profile, playlist or CSV source is set.
func (a Autofill) Configured() bool {
	return a.SourceKind != "" && a.SourceKind != SourceNone && a.SourceValue != ""
}

type Settings struct {
	RateLimit RateLimit `json:"rate_limit"`
	Autofill  Autofill  `json:"autofill"`
	// Volume is a percentage, 0..200.
	Volume int `json:"volume"`
	// NotifyChannelID is where cards are posted; empty means the adapter default.
	NotifyChannelID string `json:"notify_channel_id,omitempty"`
}

// Gain converts Volume into a sink gain level.
func (s Settings) Gain() float64 {
	v := s.Volume
	if v < 0 {
		v = 0
	}
	if v > 200 {
		v = 200
	}
	return float64(v) / 100
}

// Snapshot is what survives a restart: the queue plus the guild's settings.
type Snapshot struct {
	GuildID  string
	Tracks   []provider.Track
	Settings Settings
}

// View is a consistent copy of a guild's state for pure readers.
type View struct {
	GuildID   string
	Queue     []provider.Track
	Current   *provider.Track
	StartedAt time.Time
	SongIndex int64
	Settings  Settings
}

// Store persists snapshots. Load reports false when nothing was saved yet.
type Store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context, guildID string) (Snapshot, bool, error)
}
