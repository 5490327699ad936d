package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// AutofillRequester is the display name stamped on tracks added by idle radio.
const AutofillRequester = "Autofill"

// Track is a single playable item as it flows through the queue.
type Track struct {
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	DurationMs   int    `json:"duration_ms,omitempty"`
	AudioURL     string `json:"audio_url"`
	PageURL      string `json:"page_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	RequesterID   string `json:"requester_id,omitempty"`
	RequesterName string `json:"requester_name,omitempty"`
	RequestedAt   int64  `json:"requested_at"`
	Autofill      bool   `json:"autofill,omitempty"`
	CanonicalID   string `json:"canonical_id,omitempty"`
}

// Duration reports the track length and whether it is known.
func (t Track) Duration() (time.Duration, bool) {
	if t.DurationMs <= 0 {
		return 0, false
	}
	return time.Duration(t.DurationMs) * time.Millisecond, true
}

// Key is the identity used for likes and play history.
func (t Track) Key() string {
	if t.CanonicalID != "" {
		return t.CanonicalID
	}
	ref := t.PageURL
	if ref == "" {
		ref = t.AudioURL
	}
	return CanonicalID(ref)
}

// Locator returns the reference a resolver can turn back into this track.
func (t Track) Locator() string {
	if t.PageURL != "" {
		return t.PageURL
	}
	return t.AudioURL
}

// CanonicalID hashes a locator into a stable identifier.
func CanonicalID(ref string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(ref)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Resolver turns a locator (page URL or local path) into a Track.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (Track, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, locator string) (Track, error)

func (f ResolverFunc) Resolve(ctx context.Context, locator string) (Track, error) {
	return f(ctx, locator)
}

// SourceFetcher expands a profile or playlist reference into candidate locators.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref string, limit int) ([]string, error)
}
