// Package filesystem resolves local audio files and lists directories as
// autofill sources.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/tunez/guildradio/internal/provider"
)

var allowedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
	".opus": true,
}

type Options struct {
	// Roots limits which directories may be played. Empty allows any path.
	Roots       []string
	FFprobePath string
	Logger      *slog.Logger
}

type Provider struct {
	roots   []string
	ffprobe string
	log     *slog.Logger
}

func New(opts Options) (*Provider, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	p := &Provider{ffprobe: opts.FFprobePath, log: opts.Logger.With(slog.String("provider", "filesystem"))}
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", r, err)
		}
		p.roots = append(p.roots, filepath.Clean(abs))
	}
	return p, nil
}

// localPath turns a file:// URL or absolute path into a cleaned path.
func localPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %v", provider.ErrInvalidLocator, err)
		}
		ref = u.Path
	}
	if !filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: %q is not absolute", provider.ErrInvalidLocator, ref)
	}
	return filepath.Clean(ref), nil
}

func (p *Provider) allowed(path string) bool {
	if len(p.roots) == 0 {
		return true
	}
	for _, root := range p.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Resolve reads tags from a local file. Missing tags fall back to the file name
// and "Unknown Artist".
func (p *Provider) Resolve(ctx context.Context, locator string) (provider.Track, error) {
	path, err := localPath(locator)
	if err != nil {
		return provider.Track{}, err
	}
	if !p.allowed(path) {
		return provider.Track{}, fmt.Errorf("%w: %s is outside the music roots", provider.ErrNotSupported, path)
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
		return provider.Track{}, fmt.Errorf("%w: %s is not an audio file", provider.ErrNotSupported, path)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return provider.Track{}, fmt.Errorf("%w: %s", provider.ErrNotFound, path)
		}
		return provider.Track{}, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer f.Close()

	t := provider.Track{AudioURL: path}
	if meta, err := tag.ReadFrom(f); err == nil {
		t.Title = strings.TrimSpace(meta.Title())
		t.Artist = strings.TrimSpace(meta.Artist())
		if t.Artist == "" {
			t.Artist = strings.TrimSpace(meta.AlbumArtist())
		}
	} else {
		p.log.Debug("no tags", slog.String("path", path), slog.Any("err", err))
	}
	if t.Title == "" {
		t.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	t.DurationMs = p.durationMs(ctx, path)
	return provider.WithDefaults(t, path), nil
}

// Fetch lists audio files under a directory in name order, up to limit.
func (p *Provider) Fetch(ctx context.Context, ref string, limit int) ([]string, error) {
	dir, err := localPath(ref)
	if err != nil {
		return nil, err
	}
	if !p.allowed(dir) {
		return nil, fmt.Errorf("%w: %s is outside the music roots", provider.ErrNotSupported, dir)
	}
	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// durationMs asks ffprobe for the container duration; 0 means unknown.
func (p *Provider) durationMs(ctx context.Context, path string) int {
	cmd := exec.CommandContext(ctx, p.ffprobe, "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	return parseProbe(out)
}

func parseProbe(out []byte) int {
	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if json.Unmarshal(out, &result) != nil || result.Format.Duration == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return int(secs * 1000)
}
