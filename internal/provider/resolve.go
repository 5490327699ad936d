package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
)

// ValidLocator reports whether ref looks like something a resolver could handle:
// an absolute http(s) URL with a host, a file:// URL, or an existing local path.
func ValidLocator(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.ContainsAny(ref, "\n\r\t") {
		return false
	}
	u, err := url.Parse(ref)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return u.Host != ""
		case "file":
			return u.Path != ""
		}
	}
	if filepath.IsAbs(ref) {
		_, err := os.Stat(ref)
		return err == nil
	}
	return false
}

// WithDefaults fills the fields a resolver could not supply.
func WithDefaults(t Track, locator string) Track {
	if strings.TrimSpace(t.Title) == "" {
		t.Title = UnknownTitle
	}
	if strings.TrimSpace(t.Artist) == "" {
		t.Artist = UnknownArtist
	}
	if t.AudioURL == "" {
		t.AudioURL = locator
	}
	if t.PageURL == "" && strings.HasPrefix(locator, "http") {
		t.PageURL = locator
	}
	if t.CanonicalID == "" {
		t.CanonicalID = CanonicalID(t.Locator())
	}
	return t
}

// Chain routes local paths to Local and everything else to Remote.
type Chain struct {
	Local  Resolver
	Remote Resolver
}

func (c Chain) Resolve(ctx context.Context, locator string) (Track, error) {
	if !ValidLocator(locator) {
		return Track{}, fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	if isLocal(locator) {
		if c.Local == nil {
			return Track{}, ErrNotSupported
		}
		return c.Local.Resolve(ctx, locator)
	}
	if c.Remote == nil {
		return Track{}, ErrNotSupported
	}
	return c.Remote.Resolve(ctx, locator)
}

// FetchChain routes local directories to Local and everything else to Remote.
type FetchChain struct {
	Local  SourceFetcher
	Remote SourceFetcher
}

func (c FetchChain) Fetch(ctx context.Context, ref string, limit int) ([]string, error) {
	next := c.Remote
	if isLocal(ref) {
		next = c.Local
	}
	if next == nil {
		return nil, fmt.Errorf("%w: source %q", ErrNotSupported, ref)
	}
	return next.Fetch(ctx, ref, limit)
}

func isLocal(ref string) bool {
	return strings.HasPrefix(ref, "file://") || filepath.IsAbs(ref)
}

// PoolOptions bounds a batch resolve.
type PoolOptions struct {
	Workers int
	Timeout time.Duration
	Logger  *slog.Logger
}

// ResolveAll resolves locators on a bounded worker pool. Output order matches
// input order. A failed resolve never drops the item; it falls back to defaults.
func ResolveAll(ctx context.Context, r Resolver, locators []string, opts PoolOptions) []Track {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	out := make([]Track, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, loc := range locators {
		g.Go(func() error {
			rctx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}
			t, err := r.Resolve(rctx, loc)
			if err != nil {
				opts.Logger.Warn("resolve failed, using defaults", slog.String("locator", loc), slog.Any("err", err))
				t = Track{}
			}
			out[i] = WithDefaults(t, loc)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
