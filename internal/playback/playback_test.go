package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/provider"
)

type fakeSink struct {
	ref     string
	mu      sync.Mutex
	gains   []float64
	stopped bool
	done    chan error
	once    sync.Once
}

func newFakeSink(ref string) *fakeSink {
	return &fakeSink{ref: ref, done: make(chan error, 1)}
}

func (s *fakeSink) SetGain(level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = append(s.gains, level)
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

func (s *fakeSink) Done() <-chan error { return s.done }

func (s *fakeSink) finish(err error) {
	s.once.Do(func() { s.done <- err })
}

func (s *fakeSink) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakePipeline struct {
	mu    sync.Mutex
	opens int
	sinks []*fakeSink
	fail  map[string]bool
	delay time.Duration
}

func (p *fakePipeline) Open(ctx context.Context, guildID, ref string, tuning Tuning) (Sink, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	if p.fail[ref] {
		return nil, errors.New("cannot open " + ref)
	}
	s := newFakeSink(ref)
	p.sinks = append(p.sinks, s)
	return s, nil
}

func (p *fakePipeline) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakePipeline) sink(i int) *fakeSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.sinks) {
		return nil
	}
	return p.sinks[i]
}

type fakeNotifier struct {
	mu      sync.Mutex
	posted  []notify.Card
	refs    []string
	deleted []string
}

func (n *fakeNotifier) Post(ctx context.Context, guildID string, card notify.Card) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ref := fmt.Sprintf("ref-%d", len(n.posted))
	n.posted = append(n.posted, card)
	n.refs = append(n.refs, ref)
	return ref, nil
}

func (n *fakeNotifier) Delete(ctx context.Context, guildID, ref string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, ref)
	return nil
}

func (n *fakeNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, card := range n.posted {
		if card.Kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) deletedRefs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.deleted...)
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]guild.Snapshot
}

func newMemStore() *memStore { return &memStore{snaps: map[string]guild.Snapshot{}} }

func (s *memStore) SaveSnapshot(ctx context.Context, snap guild.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Tracks = append([]provider.Track(nil), snap.Tracks...)
	s.snaps[snap.GuildID] = snap
	return nil
}

func (s *memStore) LoadSnapshot(ctx context.Context, guildID string) (guild.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[guildID]
	return snap, ok, nil
}

func echoResolver() provider.Resolver {
	return provider.ResolverFunc(func(ctx context.Context, loc string) (provider.Track, error) {
		return provider.Track{Title: "T " + loc, Artist: "A", AudioURL: loc, DurationMs: 60_000}, nil
	})
}

type harness struct {
	mgr      *Manager
	guild    *Guild
	pipeline *fakePipeline
	notifier *fakeNotifier
	store    *memStore
}

func defaultSettings(string) guild.Settings {
	return guild.Settings{
		Volume:    100,
		RateLimit: guild.RateLimit{Enabled: true, MaxPerAdd: 10, MaxPerUser: 10},
		Autofill:  guild.Autofill{Enabled: true, SourceKind: guild.SourceURL, SourceValue: "https://example.com/@radio"},
	}
}

func newHarness(t *testing.T, opts Options, engine *autofill.Engine) *harness {
	t.Helper()
	h := &harness{
		pipeline: &fakePipeline{fail: map[string]bool{}},
		notifier: &fakeNotifier{},
		store:    newMemStore(),
	}
	h.mgr = NewManager(context.Background(), opts, Deps{
		Pipeline: h.pipeline,
		Notifier: h.notifier,
		Store:    h.store,
		Resolver: echoResolver(),
		Autofill: engine,
	}, defaultSettings)
	t.Cleanup(h.mgr.Close)
	g, err := h.mgr.Guild(context.Background(), "g1")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	h.guild = g
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func locs(n int) []string {
	var out []string
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("https://example.com/%d", i))
	}
	return out
}

func TestEnqueueStartsPlayback(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	res, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", RequesterName: "Ann", Locators: locs(2)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(res.Added) != 2 || res.FirstPosition != 1 || res.Denied {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.pipeline.openCount() != 1 {
		t.Fatalf("expected one open got %d", h.pipeline.openCount())
	}
	v := h.guild.View()
	if v.Current == nil || v.Current.AudioURL != "https://example.com/1" {
		t.Fatalf("unexpected current %+v", v.Current)
	}
	if v.SongIndex != 1 || len(v.Queue) != 1 || v.Queue[0].RequesterID != "u1" || v.Queue[0].RequestedAt == 0 {
		t.Fatalf("unexpected view %+v", v)
	}
	if h.notifier.count(notify.KindNowPlaying) != 1 {
		t.Fatalf("expected a now-playing card")
	}
	if h.guild.Phase() != PhasePlaying {
		t.Fatalf("expected playing, got %s", h.guild.Phase())
	}
}

func TestConcurrentPlayNextOpensOnce(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.pipeline.delay = 30 * time.Millisecond
	if n := h.guild.AppendAutofill(context.Background(), []provider.Track{
		{Title: "a", AudioURL: "https://example.com/a"},
		{Title: "b", AudioURL: "https://example.com/b"},
	}); n != 2 {
		t.Fatalf("expected 2 appended got %d", n)
	}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.guild.PlayNext(context.Background()); err != nil {
				t.Errorf("play next: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := h.pipeline.openCount(); got != 1 {
		t.Fatalf("expected exactly one open, got %d", got)
	}
	if v := h.guild.View(); len(v.Queue) != 1 || v.SongIndex != 1 {
		t.Fatalf("unexpected state %+v", v)
	}
}

func TestCompletionAdvancesThenOffersAutofill(t *testing.T) {
	engine := autofill.NewEngine(autofill.Options{FeatureEnabled: true}, autofill.Deps{Resolver: echoResolver()})
	h := newHarness(t, Options{AutofillDelay: time.Hour}, engine)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.pipeline.sink(0).finish(nil)
	waitFor(t, "second open", func() bool { return h.pipeline.openCount() == 2 })
	waitFor(t, "song index 2", func() bool { return h.guild.View().SongIndex == 2 })

	h.pipeline.sink(1).finish(nil)
	waitFor(t, "queue empty card", func() bool { return h.notifier.count(notify.KindQueueEmpty) == 1 })
	waitFor(t, "autofill scheduled", func() bool { return h.guild.AutofillState() == autofill.Scheduled })
	if h.guild.Phase() != PhaseIdle || h.guild.View().Current != nil {
		t.Fatalf("expected idle guild")
	}
}

func TestOpenFailureSkipsToNext(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.pipeline.fail["https://example.com/1"] = true
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if h.pipeline.openCount() != 2 {
		t.Fatalf("expected two open attempts got %d", h.pipeline.openCount())
	}
	v := h.guild.View()
	if v.Current == nil || v.Current.AudioURL != "https://example.com/2" {
		t.Fatalf("expected second track playing, got %+v", v.Current)
	}
	if v.SongIndex != 1 {
		t.Fatalf("failed opens must not bump song index, got %d", v.SongIndex)
	}
	if h.notifier.count(notify.KindPlaybackError) != 1 {
		t.Fatalf("expected playback error card")
	}
}

func TestAllOpensFailReturnsToIdle(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	for _, l := range locs(3) {
		h.pipeline.fail[l] = true
	}
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(3)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !h.guild.Idle() {
		t.Fatalf("guild should be idle after every open failed")
	}
}

func TestSkipAdvances(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	skipped, err := h.guild.Skip(context.Background())
	if err != nil || skipped.AudioURL != "https://example.com/1" {
		t.Fatalf("skip: %v %+v", err, skipped)
	}
	if !h.pipeline.sink(0).isStopped() {
		t.Fatalf("skip should stop the sink")
	}
	waitFor(t, "next track", func() bool {
		v := h.guild.View()
		return v.Current != nil && v.Current.AudioURL == "https://example.com/2"
	})
}

func TestStopClearsEverything(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(3)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if cleared := h.guild.Stop(context.Background()); cleared != 2 {
		t.Fatalf("expected 2 cleared got %d", cleared)
	}
	if !h.pipeline.sink(0).isStopped() {
		t.Fatalf("sink should be stopped")
	}
	time.Sleep(30 * time.Millisecond)
	if h.pipeline.openCount() != 1 {
		t.Fatalf("stop must not advance, opens=%d", h.pipeline.openCount())
	}
	if !h.guild.Idle() {
		t.Fatalf("expected idle after stop, phase %s", h.guild.Phase())
	}
	snap, ok, _ := h.store.LoadSnapshot(context.Background(), "g1")
	if !ok || len(snap.Tracks) != 0 {
		t.Fatalf("stop should persist an empty queue: %+v", snap)
	}
}

func TestHumanRequestPurgesFiller(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.guild.AppendAutofill(context.Background(), []provider.Track{
		{Title: "f1", AudioURL: "https://example.com/f1", Autofill: true},
		{Title: "f2", AudioURL: "https://example.com/f2", Autofill: true},
	})
	res, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.PurgedFiller != 2 {
		t.Fatalf("expected 2 purged got %d", res.PurgedFiller)
	}
	v := h.guild.View()
	if v.Current == nil || v.Current.Autofill {
		t.Fatalf("human track should play first: %+v", v.Current)
	}
	for _, tr := range v.Queue {
		if tr.Autofill {
			t.Fatalf("filler left in queue: %+v", v.Queue)
		}
	}
}

func TestEnqueueRateLimited(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.guild.UpdateSettings(func(s *guild.Settings) { s.RateLimit = guild.RateLimit{Enabled: true, MaxPerAdd: 3, MaxPerUser: 10} })
	res, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(5)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(res.Added) != 3 || res.Notice != "You can only enter 3 songs at a time into the queue." {
		t.Fatalf("unexpected result %+v", res)
	}

	h.guild.UpdateSettings(func(s *guild.Settings) { s.RateLimit.MaxPerUser = 2 })
	res, err = h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !res.Denied || !strings.Contains(res.Notice, "already have") {
		t.Fatalf("expected per-user denial, got %+v", res)
	}

	res, _ = h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1), Privileged: true})
	if res.Denied || len(res.Added) != 1 {
		t.Fatalf("privileged request should bypass caps: %+v", res)
	}
}

func TestNowPlayingPrunesOnlyFiller(t *testing.T) {
	h := newHarness(t, Options{NowPlayingRetention: 1}, nil)
	h.guild.AppendAutofill(context.Background(), []provider.Track{
		{Title: "f1", AudioURL: "https://example.com/f1", Autofill: true},
		{Title: "f2", AudioURL: "https://example.com/f2", Autofill: true},
		{Title: "f3", AudioURL: "https://example.com/f3", Autofill: true},
	})
	if err := h.guild.PlayNext(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	for i := 0; i < 2; i++ {
		h.pipeline.sink(i).finish(nil)
		want := int64(i + 2)
		waitFor(t, "next start", func() bool { return h.guild.View().SongIndex == want })
	}
	waitFor(t, "stale card deleted", func() bool { return len(h.notifier.deletedRefs()) == 1 })
	if got := h.notifier.deletedRefs()[0]; got != "ref-0" {
		t.Fatalf("expected first card deleted, got %s", got)
	}
	if n := len(h.guild.NowPlayingLog()); n != 2 {
		t.Fatalf("expected 2 tracked cards, got %d", n)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(3)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.guild.SetVolume(55); err != nil {
		t.Fatalf("volume: %v", err)
	}

	mgr := NewManager(context.Background(), Options{}, Deps{Store: h.store, Pipeline: &fakePipeline{}}, defaultSettings)
	defer mgr.Close()
	g, err := mgr.Guild(context.Background(), "g1")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	v := g.View()
	if len(v.Queue) != 2 || v.Queue[0].AudioURL != "https://example.com/2" {
		t.Fatalf("queue not restored: %+v", v.Queue)
	}
	if v.Settings.Volume != 55 {
		t.Fatalf("settings not restored: %+v", v.Settings)
	}
}

func TestVolumeRange(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if err := h.guild.SetVolume(201); !errors.Is(err, ErrVolumeRange) {
		t.Fatalf("expected range error got %v", err)
	}
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.guild.SetVolume(150); err != nil {
		t.Fatalf("volume: %v", err)
	}
	s := h.pipeline.sink(0)
	s.mu.Lock()
	last := s.gains[len(s.gains)-1]
	s.mu.Unlock()
	if last != 1.5 {
		t.Fatalf("expected live gain 1.5 got %v", last)
	}
}

func TestRemoveMoveShuffle(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.guild.AppendAutofill(context.Background(), []provider.Track{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	})
	if err := h.guild.Move(3, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	removed, err := h.guild.Remove(2)
	if err != nil || removed.Title != "a" {
		t.Fatalf("remove: %v %+v", err, removed)
	}
	if _, err := h.guild.Remove(9); err == nil {
		t.Fatalf("expected not found")
	}
	if err := h.guild.Shuffle(); err != nil {
		t.Fatalf("shuffle: %v", err)
	}
	if v := h.guild.View(); v.Queue[0].Title != "b" {
		t.Fatalf("displacing shuffle of two must swap, got %+v", v.Queue)
	}
}

func TestSkipFiller(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.guild.AppendAutofill(context.Background(), []provider.Track{
		{Title: "f1", AudioURL: "https://example.com/f1", Autofill: true},
		{Title: "f2", AudioURL: "https://example.com/f2", Autofill: true},
	})
	if err := h.guild.PlayNext(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	skipped, purged := h.guild.SkipFiller(context.Background())
	if !skipped || purged != 1 {
		t.Fatalf("expected current skipped and one purged, got %v %d", skipped, purged)
	}
	waitFor(t, "idle", h.guild.Idle)
}

func TestNowPlayingLogPrune(t *testing.T) {
	l := NewNowPlayingLog(10)
	l.Record(NowPlayingEntry{Ref: "a", SongIndex: 1, Autofill: true})
	l.Record(NowPlayingEntry{Ref: "b", SongIndex: 2})
	l.Record(NowPlayingEntry{Ref: "c", SongIndex: 3, Autofill: true})
	l.Record(NowPlayingEntry{Ref: ""})
	stale := l.Prune(5, 2)
	if len(stale) != 1 || stale[0].Ref != "a" {
		t.Fatalf("unexpected stale %+v", stale)
	}
	if l.Len() != 2 {
		t.Fatalf("human entry and recent filler must stay, got %+v", l.Entries())
	}
	stale = l.Prune(100, 2)
	if len(stale) != 1 || stale[0].Ref != "c" {
		t.Fatalf("human entries are never pruned: %+v", stale)
	}
}

func TestNowPlayingLogBounded(t *testing.T) {
	l := NewNowPlayingLog(3)
	for i := 1; i <= 5; i++ {
		l.Record(NowPlayingEntry{Ref: fmt.Sprint(i), SongIndex: int64(i)})
	}
	e := l.Entries()
	if len(e) != 3 || e[0].Ref != "3" {
		t.Fatalf("expected oldest dropped, got %+v", e)
	}
}

func TestVolumeDuringFadeInSticks(t *testing.T) {
	h := newHarness(t, Options{FadeIn: true, FadeInDuration: 200 * time.Millisecond, FadeSteps: 10}, nil)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := h.guild.SetVolume(50); err != nil {
		t.Fatalf("volume: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	s := h.pipeline.sink(0)
	s.mu.Lock()
	last := s.gains[len(s.gains)-1]
	s.mu.Unlock()
	if last != 0.5 {
		t.Fatalf("fade-in overwrote the new volume: last gain %v", last)
	}
}

func TestClearQueueKeepsCurrent(t *testing.T) {
	engine := autofill.NewEngine(autofill.Options{FeatureEnabled: true}, autofill.Deps{Resolver: echoResolver()})
	h := newHarness(t, Options{AutofillDelay: time.Hour}, engine)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(3)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n := h.guild.ClearQueue(); n != 2 {
		t.Fatalf("expected 2 cleared got %d", n)
	}
	if h.pipeline.sink(0).isStopped() {
		t.Fatal("clearing the queue must not stop the current track")
	}
	v := h.guild.View()
	if v.Current == nil || v.Current.AudioURL != "https://example.com/1" || len(v.Queue) != 0 {
		t.Fatalf("unexpected view %+v", v)
	}
	snap, ok, _ := h.store.LoadSnapshot(context.Background(), "g1")
	if !ok || len(snap.Tracks) != 0 {
		t.Fatalf("cleared queue not persisted: %+v", snap)
	}
	if h.guild.AutofillState() != autofill.Idle {
		t.Fatalf("autofill should stay idle, got %s", h.guild.AutofillState())
	}
	if n := h.guild.ClearQueue(); n != 0 {
		t.Fatalf("second clear should be empty, got %d", n)
	}
}

func TestInterruptions(t *testing.T) {
	filler := []provider.Track{
		{Title: "f1", AudioURL: "https://example.com/f1", Autofill: true},
		{Title: "f2", AudioURL: "https://example.com/f2", Autofill: true},
	}
	tests := []struct {
		name     string
		opts     Options
		autofill bool
		run      func(t *testing.T, h *harness)
	}{
		{
			name: "reload restarts the human track",
			run: func(t *testing.T, h *harness) {
				if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				if err := h.guild.Reload(context.Background()); err != nil {
					t.Fatalf("reload: %v", err)
				}
				if !h.pipeline.sink(0).isStopped() || h.pipeline.openCount() != 2 {
					t.Fatalf("reload should stop and reopen, opens=%d", h.pipeline.openCount())
				}
				// the stopped sink's completion belongs to an old generation
				time.Sleep(30 * time.Millisecond)
				v := h.guild.View()
				if v.Current == nil || v.Current.AudioURL != "https://example.com/1" {
					t.Fatalf("expected first track again, got %+v", v.Current)
				}
				if len(v.Queue) != 1 || v.Queue[0].AudioURL != "https://example.com/2" {
					t.Fatalf("unexpected queue %+v", v.Queue)
				}
				if h.pipeline.sink(1).isStopped() {
					t.Fatal("stale completion stopped the new track")
				}
			},
		},
		{
			name: "reload drops a filler track",
			run: func(t *testing.T, h *harness) {
				h.guild.AppendAutofill(context.Background(), filler)
				if err := h.guild.PlayNext(context.Background()); err != nil {
					t.Fatalf("play: %v", err)
				}
				if err := h.guild.Reload(context.Background()); err != nil {
					t.Fatalf("reload: %v", err)
				}
				waitFor(t, "idle", h.guild.Idle)
				if h.pipeline.openCount() != 1 {
					t.Fatalf("filler must not be replayed, opens=%d", h.pipeline.openCount())
				}
			},
		},
		{
			name: "leave keeps human tracks queued",
			run: func(t *testing.T, h *harness) {
				if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				if purged := h.guild.Leave(context.Background()); purged != 0 {
					t.Fatalf("expected nothing purged got %d", purged)
				}
				if !h.pipeline.sink(0).isStopped() {
					t.Fatal("leave should stop the sink")
				}
				time.Sleep(30 * time.Millisecond)
				v := h.guild.View()
				if v.Current != nil || len(v.Queue) != 2 || v.Queue[0].AudioURL != "https://example.com/1" {
					t.Fatalf("expected both tracks queued, got %+v", v)
				}
				if h.guild.Phase() != PhaseIdle || h.pipeline.openCount() != 1 {
					t.Fatalf("leave must not advance: phase %s opens %d", h.guild.Phase(), h.pipeline.openCount())
				}
			},
		},
		{
			name: "leave purges filler",
			run: func(t *testing.T, h *harness) {
				h.guild.AppendAutofill(context.Background(), filler)
				if err := h.guild.PlayNext(context.Background()); err != nil {
					t.Fatalf("play: %v", err)
				}
				if purged := h.guild.Leave(context.Background()); purged != 1 {
					t.Fatalf("expected one queued filler purged got %d", purged)
				}
				if !h.guild.Idle() {
					t.Fatalf("expected idle, got %+v", h.guild.View())
				}
			},
		},
		{
			name:     "listeners joining an idle guild arm autofill",
			opts:     Options{AutofillDelay: time.Hour},
			autofill: true,
			run: func(t *testing.T, h *harness) {
				if !h.guild.ListenersJoined() || h.guild.AutofillState() != autofill.Scheduled {
					t.Fatalf("expected autofill scheduled, got %s", h.guild.AutofillState())
				}
				if h.guild.ListenersJoined() {
					t.Fatal("a second join must not schedule twice")
				}
			},
		},
		{
			name:     "listeners joining a busy guild do nothing",
			opts:     Options{AutofillDelay: time.Hour},
			autofill: true,
			run: func(t *testing.T, h *harness) {
				if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				if h.guild.ListenersJoined() || h.guild.AutofillState() != autofill.Idle {
					t.Fatalf("busy guild must not schedule, got %s", h.guild.AutofillState())
				}
			},
		},
		{
			name: "prebuffer starts muted",
			opts: Options{Prebuffer: 20 * time.Millisecond},
			run: func(t *testing.T, h *harness) {
				start := time.Now()
				if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				if time.Since(start) < 20*time.Millisecond {
					t.Fatal("playback started before the prebuffer elapsed")
				}
				s := h.pipeline.sink(0)
				s.mu.Lock()
				gains := append([]float64(nil), s.gains...)
				s.mu.Unlock()
				if len(gains) < 2 || gains[0] != 0 || gains[len(gains)-1] != 1 {
					t.Fatalf("expected mute then full gain, got %v", gains)
				}
			},
		},
		{
			name: "stop while opening discards the sink",
			run: func(t *testing.T, h *harness) {
				h.pipeline.delay = 80 * time.Millisecond
				done := make(chan struct{})
				go func() {
					defer close(done)
					_, _ = h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(2)})
				}()
				waitFor(t, "starting", func() bool { return h.guild.Phase() == PhaseStarting })
				h.guild.Stop(context.Background())
				<-done
				if s := h.pipeline.sink(0); s == nil || !s.isStopped() {
					t.Fatal("sink opened after stop should be stopped")
				}
				if !h.guild.Idle() || h.notifier.count(notify.KindNowPlaying) != 0 {
					t.Fatalf("expected idle with no card, got %+v", h.guild.View())
				}
			},
		},
		{
			name: "completion from a detached sink is ignored",
			run: func(t *testing.T, h *harness) {
				if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(1)}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				h.guild.Leave(context.Background())
				if err := h.guild.PlayNext(context.Background()); err != nil {
					t.Fatalf("play: %v", err)
				}
				h.pipeline.sink(0).finish(errors.New("late"))
				time.Sleep(30 * time.Millisecond)
				v := h.guild.View()
				if v.Current == nil || h.pipeline.sink(1).isStopped() {
					t.Fatalf("old sink ended the new track: %+v", v)
				}
				if h.notifier.count(notify.KindQueueEmpty) != 0 {
					t.Fatal("queue-empty card from a stale completion")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var engine *autofill.Engine
			if tt.autofill {
				engine = autofill.NewEngine(autofill.Options{FeatureEnabled: true}, autofill.Deps{Resolver: echoResolver()})
			}
			tt.run(t, newHarness(t, tt.opts, engine))
		})
	}
}

// slowStore delays each save by an amount that varies with its content so
// saves started later can finish first unless the guild orders them.
type slowStore struct {
	*memStore
}

func (s slowStore) SaveSnapshot(ctx context.Context, snap guild.Snapshot) error {
	time.Sleep(time.Duration(7-snap.Settings.Volume%7) * time.Millisecond)
	return s.memStore.SaveSnapshot(ctx, snap)
}

func TestConcurrentSavesKeepLatest(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(context.Background(), Options{}, Deps{Store: slowStore{store}}, defaultSettings)
	defer mgr.Close()
	g, err := mgr.Guild(context.Background(), "g1")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = g.SetVolume(v)
		}(i)
	}
	wg.Wait()
	snap, ok, _ := store.LoadSnapshot(context.Background(), "g1")
	if !ok || snap.Settings.Volume != g.Settings().Volume {
		t.Fatalf("stored volume %d, live volume %d", snap.Settings.Volume, g.Settings().Volume)
	}
}

func TestResetRestoresAutofillDefaults(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if _, err := h.guild.Enqueue(context.Background(), Request{RequesterID: "u1", Locators: locs(3)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.guild.UpdateSettings(func(s *guild.Settings) {
		s.Autofill = guild.Autofill{Enabled: false, SourceKind: guild.SourceCSV, SourceValue: "/tmp/x.csv"}
	})
	cleared, err := h.mgr.Reset(context.Background(), "g1")
	if err != nil || cleared != 2 {
		t.Fatalf("reset: %d %v", cleared, err)
	}
	v := h.guild.View()
	if v.Current == nil || len(v.Queue) != 0 {
		t.Fatalf("reset should keep the current track and clear the rest: %+v", v)
	}
	if v.Settings.Autofill != defaultSettings("g1").Autofill {
		t.Fatalf("autofill not restored: %+v", v.Settings.Autofill)
	}
	snap, _, _ := h.store.LoadSnapshot(context.Background(), "g1")
	if len(snap.Tracks) != 0 || snap.Settings.Autofill.SourceKind != guild.SourceURL {
		t.Fatalf("reset not persisted: %+v", snap)
	}
}
