package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunez/guildradio/internal/admission"
	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/fade"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/provider"
	"github.com/tunez/guildradio/internal/queue"
)

var (
	ErrQueueEmpty    = errors.New("playback: queue is empty")
	ErrNothingPlays  = errors.New("playback: nothing is playing")
	ErrVolumeRange   = errors.New("playback: volume must be between 0 and 200")
	ErrNoPipeline    = errors.New("playback: no audio pipeline")
	errGuildShutdown = errors.New("playback: guild closed")
)

type completion struct {
	gen uint64
	err error
}

// Guild owns one guild's queue state. All mutation goes through its methods.
type Guild struct {
	id   string
	opts Options
	deps Deps
	log  *slog.Logger

	// playMu serializes playNext from dequeue through the now-playing post.
	playMu sync.Mutex
	// persistMu keeps snapshots reaching the store in the order they were taken.
	persistMu sync.Mutex

	mu         sync.Mutex
	queue      *queue.Queue
	settings   guild.Settings
	current    *provider.Track
	startedAt  time.Time
	songIndex  int64
	phase      Phase
	sink       Sink
	gen        uint64
	playID     int64
	nowPlaying *NowPlayingLog

	fades    *fade.Controller
	autofill *autofill.Scheduler
	events   chan completion
	closed   chan struct{}
	once     sync.Once
}

func newGuild(id string, snap guild.Snapshot, opts Options, deps Deps) *Guild {
	g := &Guild{
		id:         id,
		opts:       opts,
		deps:       deps,
		log:        opts.Logger.With(slog.String("guild", id)),
		queue:      queue.New(snap.Tracks...),
		settings:   snap.Settings,
		nowPlaying: NewNowPlayingLog(opts.NowPlayingLogSize),
		fades:      fade.NewController(),
		events:     make(chan completion, 8),
		closed:     make(chan struct{}),
	}
	if deps.Autofill != nil {
		g.autofill = autofill.NewScheduler(deps.Autofill, g, opts.FillTimeout, opts.Logger)
	}
	return g
}

// run consumes completion events until ctx ends or the guild closes.
func (g *Guild) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.closed:
			return
		case ev := <-g.events:
			g.handleCompletion(ctx, ev)
		}
	}
}

func (g *Guild) close() {
	g.once.Do(func() {
		g.cancelAutofill()
		close(g.closed)
		g.mu.Lock()
		sink := g.sink
		g.gen++
		g.sink = nil
		g.current = nil
		g.phase = PhaseIdle
		g.mu.Unlock()
		if sink != nil {
			_ = sink.Stop()
		}
	})
}

func (g *Guild) GuildID() string { return g.id }

func (g *Guild) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idleLocked()
}

func (g *Guild) idleLocked() bool {
	return g.queue.Len() == 0 && g.current == nil && g.phase == PhaseIdle
}

func (g *Guild) Settings() guild.Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

func (g *Guild) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// AutofillState reports the idle radio cycle, Idle when autofill is unavailable.
func (g *Guild) AutofillState() autofill.State {
	if g.autofill == nil {
		return autofill.Idle
	}
	return g.autofill.State()
}

func (g *Guild) View() guild.View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked()
}

func (g *Guild) viewLocked() guild.View {
	v := guild.View{
		GuildID:   g.id,
		Queue:     g.queue.Items(),
		StartedAt: g.startedAt,
		SongIndex: g.songIndex,
		Settings:  g.settings,
	}
	if g.current != nil {
		cur := *g.current
		v.Current = &cur
	}
	return v
}

func (g *Guild) NowPlayingLog() []NowPlayingEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nowPlaying.Entries()
}

// Request is a human enqueue. Privileged is decided by the caller's boundary.
type Request struct {
	RequesterID   string
	RequesterName string
	Locators      []string
	Privileged    bool
}

type Result struct {
	Added         []provider.Track
	FirstPosition int
	Wait          eta.Estimate
	Notice        string
	Denied        bool
	PurgedFiller  int
}

// Enqueue admits, resolves and appends a human request, then starts playback
// if the guild was idle. Pending autofill is cancelled and queued filler purged.
func (g *Guild) Enqueue(ctx context.Context, req Request) (Result, error) {
	if g.deps.Resolver == nil {
		return Result{}, fmt.Errorf("enqueue: %w", provider.ErrNotSupported)
	}
	g.cancelAutofill()

	g.mu.Lock()
	purged := g.queue.PurgeAutofill()
	decision := admission.Decide(g.viewLocked(), req.RequesterID, len(req.Locators), req.Privileged)
	g.mu.Unlock()
	if purged > 0 {
		g.persist()
	}
	res := Result{Notice: decision.Notice, PurgedFiller: purged}
	if decision.Denied {
		res.Denied = true
		return res, nil
	}

	tracks := provider.ResolveAll(ctx, g.deps.Resolver, req.Locators[:decision.Allowed], provider.PoolOptions{
		Workers: g.opts.ResolveWorkers,
		Timeout: g.opts.ResolveTimeout,
		Logger:  g.log,
	})
	now := time.Now()
	for i := range tracks {
		tracks[i].RequesterID = req.RequesterID
		tracks[i].RequesterName = req.RequesterName
		tracks[i].RequestedAt = now.Unix()
		tracks[i].Autofill = false
	}

	g.mu.Lock()
	res.PurgedFiller += g.queue.PurgeAutofill()
	if slots := admission.RemainingUserSlots(g.viewLocked(), req.RequesterID, req.Privileged); len(tracks) > slots {
		tracks = tracks[:slots]
	}
	if len(tracks) == 0 {
		maxPerUser := g.settings.RateLimit.MaxPerUser
		g.mu.Unlock()
		res.Denied = true
		res.Notice = admission.UserCapNotice("You", maxPerUser)
		return res, nil
	}
	res.FirstPosition = g.queue.Len() + 1
	g.queue.Append(tracks...)
	res.Wait = eta.StartDelay(g.viewLocked(), res.FirstPosition, now)
	res.Added = tracks
	g.mu.Unlock()
	g.persist()

	g.log.Info("tracks queued",
		slog.String("requester", req.RequesterID),
		slog.Int("count", len(tracks)),
		slog.Int("position", res.FirstPosition))

	if g.playNext(ctx) == PhaseIdle {
		g.scheduleAutofill()
	}
	return res, nil
}

// AppendAutofill adds filler only while the guild is still idle.
func (g *Guild) AppendAutofill(ctx context.Context, tracks []provider.Track) int {
	g.mu.Lock()
	if ctx.Err() != nil || !g.idleLocked() {
		g.mu.Unlock()
		return 0
	}
	g.queue.Append(tracks...)
	g.mu.Unlock()
	g.persist()
	return len(tracks)
}

// PlayNext starts the next track unless something is already playing.
func (g *Guild) PlayNext(ctx context.Context) error {
	select {
	case <-g.closed:
		return errGuildShutdown
	default:
	}
	if g.deps.Pipeline == nil {
		return ErrNoPipeline
	}
	g.playNext(ctx)
	return nil
}

// playNext returns the phase it leaves the guild in. PhasePlaying means a
// track is playing, whether started here or already running.
func (g *Guild) playNext(ctx context.Context) Phase {
	g.playMu.Lock()
	defer g.playMu.Unlock()

	for {
		g.mu.Lock()
		if g.current != nil || g.phase == PhaseStopping {
			phase := g.phase
			g.mu.Unlock()
			return phase
		}
		t, ok := g.queue.PopFront()
		if !ok {
			g.phase = PhaseIdle
			g.mu.Unlock()
			return PhaseIdle
		}
		g.phase = PhaseStarting
		gain := g.settings.Gain()
		g.mu.Unlock()
		g.persist()

		sink, err := g.open(ctx, t, gain)
		if err != nil {
			g.log.Warn("open failed, skipping track",
				slog.String("title", t.Title),
				slog.String("ref", t.AudioURL),
				slog.Any("err", err))
			g.post(ctx, notify.PlaybackError(t, err))
			g.mu.Lock()
			if g.phase == PhaseStarting {
				g.phase = PhaseIdle
			}
			g.mu.Unlock()
			continue
		}

		if g.opts.Prebuffer > 0 {
			_ = sink.SetGain(0)
			select {
			case <-time.After(g.opts.Prebuffer):
			case <-ctx.Done():
			}
		}

		g.mu.Lock()
		if g.phase != PhaseStarting {
			// stopped while the pipeline was opening
			g.mu.Unlock()
			_ = sink.Stop()
			return PhaseIdle
		}
		g.gen++
		gen := g.gen
		g.songIndex++
		index := g.songIndex
		g.current = &t
		g.startedAt = time.Now()
		g.sink = sink
		g.phase = PhasePlaying
		upcoming := g.queue.Items()
		if len(upcoming) > notify.UpNextCount {
			upcoming = upcoming[:notify.UpNextCount]
		}
		g.mu.Unlock()

		go g.watch(gen, sink)

		if g.opts.FadeIn {
			g.fades.FadeIn(sink, gain, g.opts.FadeInDuration, g.opts.FadeSteps)
		} else {
			_ = sink.SetGain(gain)
		}

		g.log.Info("now playing",
			slog.String("title", t.Title),
			slog.Int64("song_index", index),
			slog.Bool("autofill", t.Autofill))

		ref := g.post(ctx, notify.NowPlaying(t, upcoming))
		g.mu.Lock()
		g.nowPlaying.Record(NowPlayingEntry{Ref: ref, SongIndex: index, Autofill: t.Autofill})
		stale := g.nowPlaying.Prune(index, g.opts.NowPlayingRetention)
		g.mu.Unlock()
		if len(stale) > 0 {
			go g.deleteCards(stale)
		}

		g.recordStart(ctx, gen, t)
		if g.deps.OnStart != nil {
			g.deps.OnStart(g.id, t)
		}
		return PhasePlaying
	}
}

func (g *Guild) open(ctx context.Context, t provider.Track, gain float64) (Sink, error) {
	if g.deps.Pipeline == nil {
		return nil, ErrNoPipeline
	}
	octx, cancel := context.WithTimeout(ctx, g.opts.OpenTimeout)
	defer cancel()
	return g.deps.Pipeline.Open(octx, g.id, t.AudioURL, Tuning{
		Gain:       gain,
		StartMuted: g.opts.FadeIn || g.opts.Prebuffer > 0,
	})
}

// watch forwards the sink's end of stream to the guild's event loop.
func (g *Guild) watch(gen uint64, sink Sink) {
	var err error
	select {
	case err = <-sink.Done():
	case <-g.closed:
		return
	}
	select {
	case g.events <- completion{gen: gen, err: err}:
	case <-g.closed:
	}
}

func (g *Guild) handleCompletion(ctx context.Context, ev completion) {
	g.mu.Lock()
	if ev.gen != g.gen || g.current == nil {
		g.mu.Unlock()
		return
	}
	finished := *g.current
	playID := g.playID
	g.current = nil
	g.sink = nil
	g.startedAt = time.Time{}
	g.playID = 0
	g.phase = PhaseIdle
	g.mu.Unlock()

	if ev.err != nil {
		g.log.Warn("track ended with error", slog.String("title", finished.Title), slog.Any("err", ev.err))
	} else {
		g.log.Debug("track finished", slog.String("title", finished.Title))
	}
	g.recordEnd(ctx, playID)

	if g.playNext(ctx) == PhaseIdle {
		g.post(ctx, notify.QueueEmpty())
		g.scheduleAutofill()
	}
}

// Skip fades out the current track; the completion event advances the queue.
func (g *Guild) Skip(ctx context.Context) (provider.Track, error) {
	g.mu.Lock()
	if g.current == nil || g.sink == nil {
		g.mu.Unlock()
		return provider.Track{}, ErrNothingPlays
	}
	cur := *g.current
	sink := g.sink
	gain := g.settings.Gain()
	g.mu.Unlock()

	if err := g.fades.FadeOut(ctx, sink, gain, g.opts.FadeOutDuration, g.opts.FadeSteps); err != nil {
		if errors.Is(err, fade.ErrFadeInFlight) {
			g.log.Debug("fade-out already running, hard stopped")
		} else {
			g.log.Warn("stop after skip failed", slog.Any("err", err))
		}
	}
	return cur, nil
}

// SkipFiller skips the current track only if it is filler and purges queued filler.
func (g *Guild) SkipFiller(ctx context.Context) (skippedCurrent bool, purged int) {
	g.mu.Lock()
	purged = g.queue.PurgeAutofill()
	filler := g.current != nil && g.current.Autofill
	g.mu.Unlock()
	if purged > 0 {
		g.persist()
	}
	if filler {
		_, err := g.Skip(ctx)
		skippedCurrent = err == nil
	}
	return skippedCurrent, purged
}

// Stop cancels autofill, clears the queue and fades out whatever is playing.
func (g *Guild) Stop(ctx context.Context) int {
	g.cancelAutofill()
	g.mu.Lock()
	cleared := g.queue.Len()
	g.queue.Clear()
	sink, gain, playID := g.detachLocked()
	g.mu.Unlock()
	g.persist()

	g.stopDetached(ctx, sink, gain, playID)
	g.log.Info("stopped", slog.Int("cleared", cleared))
	return cleared
}

// ClearQueue drops everything queued after the current track, which keeps
// playing. Pending autofill is cancelled.
func (g *Guild) ClearQueue() int {
	g.cancelAutofill()
	g.mu.Lock()
	cleared := g.queue.Len()
	g.queue.Clear()
	g.mu.Unlock()
	g.persist()
	g.log.Info("queue cleared", slog.Int("cleared", cleared))
	return cleared
}

// Reset empties the queue and puts the autofill settings back to af. The
// current track keeps playing.
func (g *Guild) Reset(af guild.Autofill) int {
	g.cancelAutofill()
	g.mu.Lock()
	cleared := g.queue.Len()
	g.queue.Clear()
	g.settings.Autofill = af
	g.mu.Unlock()
	g.persist()
	g.log.Info("state reset", slog.Int("cleared", cleared))
	return cleared
}

// Reload restarts the current human track from the top and drops filler.
func (g *Guild) Reload(ctx context.Context) error {
	g.cancelAutofill()
	g.mu.Lock()
	g.queue.PurgeAutofill()
	if g.current != nil && !g.current.Autofill {
		g.queue.Prepend(*g.current)
	}
	sink, gain, playID := g.detachLocked()
	g.mu.Unlock()
	g.persist()

	g.stopDetached(ctx, sink, gain, playID)
	return g.PlayNext(ctx)
}

// Leave is called when the bot leaves voice: filler goes, humans stay queued.
func (g *Guild) Leave(ctx context.Context) int {
	g.cancelAutofill()
	g.mu.Lock()
	purged := g.queue.PurgeAutofill()
	if g.current != nil && !g.current.Autofill {
		g.queue.Prepend(*g.current)
	}
	sink, _, playID := g.detachLocked()
	g.mu.Unlock()
	g.persist()
	if sink != nil {
		_ = sink.Stop()
		g.recordEnd(ctx, playID)
	}
	g.mu.Lock()
	if g.phase == PhaseStopping {
		g.phase = PhaseIdle
	}
	g.mu.Unlock()
	return purged
}

// ListenersJoined offers autofill a chance when people arrive to an idle guild.
func (g *Guild) ListenersJoined() bool {
	if !g.Idle() {
		return false
	}
	return g.scheduleAutofill()
}

// detachLocked takes the current sink out of the guild so completion events
// for it are ignored.
func (g *Guild) detachLocked() (Sink, float64, int64) {
	sink := g.sink
	playID := g.playID
	gain := g.settings.Gain()
	g.gen++
	if g.current != nil {
		g.phase = PhaseStopping
	} else {
		g.phase = PhaseIdle
	}
	g.current = nil
	g.sink = nil
	g.startedAt = time.Time{}
	g.playID = 0
	return sink, gain, playID
}

func (g *Guild) stopDetached(ctx context.Context, sink Sink, gain float64, playID int64) {
	if sink != nil {
		if err := g.fades.FadeOut(ctx, sink, gain, g.opts.FadeOutDuration, g.opts.FadeSteps); err != nil && !errors.Is(err, fade.ErrFadeInFlight) {
			g.log.Warn("stop failed", slog.Any("err", err))
		}
		g.recordEnd(ctx, playID)
	}
	g.mu.Lock()
	if g.phase == PhaseStopping {
		g.phase = PhaseIdle
	}
	pending := g.queue.Len() > 0
	g.mu.Unlock()
	if pending {
		g.playNext(ctx)
	}
}

func (g *Guild) Remove(pos int) (provider.Track, error) {
	g.mu.Lock()
	t, err := g.queue.RemoveAt(pos)
	g.mu.Unlock()
	if err != nil {
		return provider.Track{}, err
	}
	g.persist()
	return t, nil
}

func (g *Guild) Move(src, dst int) error {
	g.mu.Lock()
	err := g.queue.MoveTo(src, dst)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.persist()
	return nil
}

func (g *Guild) Shuffle() error {
	g.mu.Lock()
	if g.queue.Len() == 0 {
		g.mu.Unlock()
		return ErrQueueEmpty
	}
	g.queue.ShuffleDisplacingFirst()
	g.mu.Unlock()
	g.persist()
	return nil
}

// SetVolume sets the guild volume in percent and applies it to the live sink.
func (g *Guild) SetVolume(percent int) error {
	if percent < 0 || percent > 200 {
		return ErrVolumeRange
	}
	g.mu.Lock()
	g.settings.Volume = percent
	sink := g.sink
	gain := g.settings.Gain()
	g.mu.Unlock()
	if sink != nil && !g.fades.Busy() {
		g.fades.CancelFadeIn()
		_ = sink.SetGain(gain)
	}
	g.persist()
	return nil
}

// UpdateSettings applies fn to the guild settings and persists the result.
// Turning autofill off cancels any pending fill and purges filler.
func (g *Guild) UpdateSettings(fn func(*guild.Settings)) guild.Settings {
	g.mu.Lock()
	fn(&g.settings)
	if g.settings.RateLimit.MaxPerAdd < 1 {
		g.settings.RateLimit.MaxPerAdd = 1
	}
	s := g.settings
	if !s.Autofill.Enabled {
		g.queue.PurgeAutofill()
	}
	g.mu.Unlock()
	if !s.Autofill.Enabled {
		g.cancelAutofill()
	}
	g.persist()
	return s
}

func (g *Guild) cancelAutofill() {
	if g.autofill != nil {
		g.autofill.Cancel()
	}
}

func (g *Guild) scheduleAutofill() bool {
	if g.autofill == nil {
		return false
	}
	return g.autofill.ScheduleIfIdle(g.opts.AutofillDelay)
}

func (g *Guild) snapshot() guild.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return guild.Snapshot{GuildID: g.id, Tracks: g.queue.Items(), Settings: g.settings}
}

func (g *Guild) persist() {
	if g.deps.Store == nil {
		return
	}
	g.persistMu.Lock()
	defer g.persistMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.SaveTimeout)
	defer cancel()
	if err := g.deps.Store.SaveSnapshot(ctx, g.snapshot()); err != nil {
		g.log.Warn("save snapshot failed", slog.Any("err", err))
	}
}

func (g *Guild) post(ctx context.Context, card notify.Card) string {
	if g.deps.Notifier == nil {
		return ""
	}
	ref, err := g.deps.Notifier.Post(ctx, g.id, card)
	if err != nil {
		g.log.Warn("post card failed", slog.String("kind", string(card.Kind)), slog.Any("err", err))
		return ""
	}
	return ref
}

func (g *Guild) deleteCards(entries []NowPlayingEntry) {
	if g.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, e := range entries {
		if g.deps.DeleteLimiter != nil {
			if err := g.deps.DeleteLimiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := g.deps.Notifier.Delete(ctx, g.id, e.Ref); err != nil {
			g.log.Debug("delete stale card failed", slog.String("ref", e.Ref), slog.Any("err", err))
		}
	}
}

func (g *Guild) recordStart(ctx context.Context, gen uint64, t provider.Track) {
	if g.deps.History == nil {
		return
	}
	id, err := g.deps.History.RecordPlayStart(ctx, g.id, t)
	if err != nil {
		g.log.Debug("record play start failed", slog.Any("err", err))
		return
	}
	g.mu.Lock()
	if g.gen == gen {
		g.playID = id
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	// track already ended
	g.recordEnd(ctx, id)
}

func (g *Guild) recordEnd(ctx context.Context, playID int64) {
	if g.deps.History == nil || playID == 0 {
		return
	}
	if err := g.deps.History.RecordPlayEnd(context.WithoutCancel(ctx), playID); err != nil {
		g.log.Debug("record play end failed", slog.Any("err", err))
	}
}
