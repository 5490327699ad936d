// Package ytdlp resolves page URLs and expands profiles and playlists with yt-dlp.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/tunez/guildradio/internal/provider"
)

const metadataTemplate = "%(title)s\t%(artist,uploader,channel|)s\t%(duration|)s\t%(thumbnail|)s\t%(webpage_url|)s"

type Options struct {
	// Executable overrides the yt-dlp binary looked up on PATH.
	Executable string
	Format     string
	Logger     *slog.Logger
}

type Provider struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Provider {
	if opts.Format == "" {
		opts.Format = "bestaudio/best"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provider{opts: opts, log: opts.Logger.With(slog.String("provider", "ytdlp"))}
}

func (p *Provider) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoWarnings().
		IgnoreConfig()
	if p.opts.Executable != "" {
		cmd.SetExecutable(p.opts.Executable)
	}
	return cmd
}

// Resolve reads a page's metadata without downloading it. The returned
// track's AudioURL is the page itself; mpv streams it through its ytdl hook.
func (p *Provider) Resolve(ctx context.Context, locator string) (provider.Track, error) {
	res, err := p.command().
		Print(metadataTemplate).
		Format(p.opts.Format).
		NoPlaylist().
		Run(ctx, "--skip-download", locator)
	if err != nil {
		return provider.Track{}, classify(ctx, res, err)
	}
	t, err := parseMetadata(res.Stdout)
	if err != nil {
		return provider.Track{}, err
	}
	if t.PageURL == "" {
		t.PageURL = locator
	}
	t.AudioURL = t.PageURL
	t = provider.WithDefaults(t, locator)
	p.log.Debug("resolved", slog.String("locator", locator), slog.String("title", t.Title))
	return t, nil
}

// Fetch lists up to limit entry URLs of a profile or playlist.
func (p *Provider) Fetch(ctx context.Context, ref string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := p.command().
		FlatPlaylist().
		Print("%(url)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, ref)
	if err != nil {
		return nil, classify(ctx, res, err)
	}
	return parseEntries(res.Stdout, limit), nil
}

func parseMetadata(stdout string) (provider.Track, error) {
	for _, l := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 5 {
			continue
		}
		t := provider.Track{
			Title:        cleanField(ps[0]),
			Artist:       cleanField(ps[1]),
			ThumbnailURL: cleanField(ps[3]),
			PageURL:      cleanField(ps[4]),
		}
		if secs, err := strconv.ParseFloat(cleanField(ps[2]), 64); err == nil && secs > 0 {
			t.DurationMs = int(time.Duration(secs * float64(time.Second)).Milliseconds())
		}
		return t, nil
	}
	return provider.Track{}, fmt.Errorf("ytdlp: %w: no metadata in output", provider.ErrNotFound)
}

func parseEntries(stdout string, limit int) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(stdout), "\n") {
		l = cleanField(l)
		if l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

// cleanField maps yt-dlp's "NA" placeholder to empty.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func classify(ctx context.Context, res *ytdlp.Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ytdlp: %w: %v", provider.ErrTemporary, ctxErr)
	}
	stderr := ""
	if res != nil {
		stderr = res.Stderr
	}
	return classifyStderr(stderr, err)
}

func classifyStderr(stderr string, err error) error {
	msg := strings.ToLower(stderr)
	var kind error
	switch {
	case strings.Contains(msg, "unsupported url"):
		kind = provider.ErrNotSupported
	case strings.Contains(msg, "drm"):
		kind = provider.ErrNotSupported
	case strings.Contains(msg, "http error 404"), strings.Contains(msg, "does not exist"):
		kind = provider.ErrNotFound
	case strings.Contains(msg, "private"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "removed"):
		kind = provider.ErrUnavailable
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "http error 5"), strings.Contains(msg, "429"):
		kind = provider.ErrTemporary
	}
	if kind == nil {
		if errors.Is(err, context.DeadlineExceeded) {
			kind = provider.ErrTemporary
		} else {
			return fmt.Errorf("ytdlp: %w", err)
		}
	}
	if line := lastLine(stderr); line != "" {
		return fmt.Errorf("ytdlp: %w: %s", kind, line)
	}
	return fmt.Errorf("ytdlp: %w", kind)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
