package autofill

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

type fakeRoster []string

func (r fakeRoster) CurrentListeners(ctx context.Context, guildID string) ([]string, error) {
	return r, nil
}

type fakeLikes map[string][]string

func (l fakeLikes) TopLikedFor(ctx context.Context, guildID string, userIDs []string, limit int) ([]string, error) {
	var out []string
	for _, u := range userIDs {
		out = append(out, l[u]...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeFetcher []string

func (f fakeFetcher) Fetch(ctx context.Context, ref string, limit int) ([]string, error) {
	out := []string(f)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func echoResolver() provider.Resolver {
	return provider.ResolverFunc(func(ctx context.Context, loc string) (provider.Track, error) {
		return provider.Track{Title: "T " + loc, Artist: "A", AudioURL: loc, DurationMs: 1000}, nil
	})
}

func noShuffle(n int, swap func(i, j int)) {}

func urlSettings() guild.Autofill {
	return guild.Autofill{Enabled: true, SourceKind: guild.SourceURL, SourceValue: "https://example.com/@someone"}
}

func TestFillPrefersLikedThenSource(t *testing.T) {
	e := NewEngine(Options{FeatureEnabled: true, BatchSize: 4, PerListener: 2, Shuffle: noShuffle}, Deps{
		Roster:   fakeRoster{"u1", "u2"},
		Likes:    fakeLikes{"u1": {"https://l/1", "https://l/2", "https://l/3"}, "u2": {"https://l/2"}},
		Resolver: echoResolver(),
		Fetcher:  fakeFetcher{"https://s/1", "not a url", "https://s/2", "https://s/3"},
	})
	tracks, err := e.Fill(context.Background(), "g1", urlSettings())
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	var got []string
	for _, tr := range tracks {
		got = append(got, tr.AudioURL)
		if !tr.Autofill || tr.RequesterID != "" || tr.RequesterName != provider.AutofillRequester {
			t.Fatalf("track not tagged as autofill: %+v", tr)
		}
		if tr.RequestedAt == 0 {
			t.Fatalf("requested_at must be stamped")
		}
	}
	want := []string{"https://l/1", "https://l/2", "https://s/1", "https://s/2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFillNothingPlayable(t *testing.T) {
	e := NewEngine(Options{FeatureEnabled: true, Shuffle: noShuffle}, Deps{
		Resolver: echoResolver(),
		Fetcher:  fakeFetcher{"", "garbage"},
	})
	tracks, err := e.Fill(context.Background(), "g1", urlSettings())
	if err != nil || len(tracks) != 0 {
		t.Fatalf("expected empty no-error fill, got %v %v", tracks, err)
	}
}

func TestEligible(t *testing.T) {
	withLikes := NewEngine(Options{FeatureEnabled: true}, Deps{
		Roster: fakeRoster{"u1"}, Likes: fakeLikes{"u1": {"https://l/1"}}, Resolver: echoResolver(),
	})
	noLikes := NewEngine(Options{FeatureEnabled: true}, Deps{Resolver: echoResolver()})
	featureOff := NewEngine(Options{FeatureEnabled: false}, Deps{Resolver: echoResolver()})

	tests := []struct {
		name string
		e    *Engine
		s    guild.Autofill
		want bool
	}{
		{"url source", noLikes, urlSettings(), true},
		{"guild disabled", noLikes, guild.Autofill{SourceKind: guild.SourceURL, SourceValue: "https://x"}, false},
		{"feature off", featureOff, urlSettings(), false},
		{"no source no likes", noLikes, guild.Autofill{Enabled: true}, false},
		{"likes only", withLikes, guild.Autofill{Enabled: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Eligible(context.Background(), "g1", tt.s); got != tt.want {
				t.Fatalf("Eligible = %v want %v", got, tt.want)
			}
		})
	}
}

type fakeHost struct {
	mu       sync.Mutex
	queue    []provider.Track
	playing  bool
	settings guild.Settings
	plays    int
	ctxDead  bool
}

func (h *fakeHost) GuildID() string { return "g1" }

func (h *fakeHost) Idle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue) == 0 && !h.playing
}

func (h *fakeHost) Settings() guild.Settings { return h.settings }

func (h *fakeHost) AppendAutofill(ctx context.Context, tracks []provider.Track) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctx.Err() != nil {
		h.ctxDead = true
		return 0
	}
	if len(h.queue) != 0 || h.playing {
		return 0
	}
	h.queue = append(h.queue, tracks...)
	return len(tracks)
}

func (h *fakeHost) PlayNext(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plays++
	return nil
}

// enqueueHuman mirrors what a guild does on a human request.
func (h *fakeHost) enqueueHuman(s *Scheduler, t provider.Track) {
	s.Cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.queue[:0]
	for _, q := range h.queue {
		if !q.Autofill {
			kept = append(kept, q)
		}
	}
	h.queue = append(kept, t)
}

func (h *fakeHost) autofillCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.queue {
		if t.Autofill {
			n++
		}
	}
	return n
}

func newTestScheduler(h *fakeHost) *Scheduler {
	e := NewEngine(Options{FeatureEnabled: true, BatchSize: 3, Shuffle: noShuffle}, Deps{
		Resolver: echoResolver(),
		Fetcher:  fakeFetcher{"https://s/1", "https://s/2", "https://s/3"},
	})
	return NewScheduler(e, h, time.Second, nil)
}

func TestSchedulerFillsAndHandsOff(t *testing.T) {
	h := &fakeHost{settings: guild.Settings{Autofill: urlSettings()}}
	s := newTestScheduler(h)
	if !s.ScheduleIfIdle(5 * time.Millisecond) {
		t.Fatalf("expected schedule")
	}
	if s.ScheduleIfIdle(5 * time.Millisecond) {
		t.Fatalf("second schedule must be a no-op")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if h.autofillCount() != 3 || h.plays != 1 {
		t.Fatalf("expected 3 autofill tracks and one hand-off, got %d/%d", h.autofillCount(), h.plays)
	}
	if s.State() != Idle {
		t.Fatalf("expected idle after fill, got %s", s.State())
	}
}

func TestSchedulerCancelThenEnqueueLeavesNoAutofill(t *testing.T) {
	h := &fakeHost{settings: guild.Settings{Autofill: urlSettings()}}
	s := newTestScheduler(h)
	s.ScheduleIfIdle(20 * time.Millisecond)
	h.enqueueHuman(s, provider.Track{Title: "human", RequesterID: "u1"})
	time.Sleep(60 * time.Millisecond)
	if n := h.autofillCount(); n != 0 {
		t.Fatalf("expected zero autofill tracks, got %d", n)
	}
	if s.State() != Idle || h.plays != 0 {
		t.Fatalf("cancelled fill must not hand off: state=%s plays=%d", s.State(), h.plays)
	}
}

func TestSchedulerSkipsWhenBusy(t *testing.T) {
	h := &fakeHost{settings: guild.Settings{Autofill: urlSettings()}, playing: true}
	s := newTestScheduler(h)
	s.ScheduleIfIdle(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Wait(ctx)
	if h.autofillCount() != 0 || h.plays != 0 {
		t.Fatalf("busy guild must not be filled")
	}
}

func TestSchedulerRespectsGuildSwitch(t *testing.T) {
	h := &fakeHost{settings: guild.Settings{Autofill: guild.Autofill{Enabled: false}}}
	s := newTestScheduler(h)
	if s.ScheduleIfIdle(time.Millisecond) {
		t.Fatalf("disabled guild must not schedule")
	}
}

func TestParseSeeds(t *testing.T) {
	in := "title,url\nOne,https://a/1\n# comment\nTwo, https://a/2\nThree,\n"
	got, err := parseSeeds(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Join(got, ",") != "https://a/1,https://a/2" {
		t.Fatalf("unexpected seeds %v", got)
	}
	got, err = parseSeeds(strings.NewReader("https://b/1\nhttps://b/2\n"))
	if err != nil || len(got) != 2 {
		t.Fatalf("headerless parse: %v %v", got, err)
	}
}

func TestSeedsReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.csv")
	if err := os.WriteFile(path, []byte("https://a/1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := NewSeeds(nil)
	if err != nil {
		t.Fatalf("seeds: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	list, err := s.Get(path)
	if err != nil || len(list) != 1 {
		t.Fatalf("get: %v %v", list, err)
	}
	if err := os.WriteFile(path, []byte("https://a/1\nhttps://a/2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Count(path) == -1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	list, err = s.Get(path)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected reloaded list of 2, got %v %v", list, err)
	}
}
