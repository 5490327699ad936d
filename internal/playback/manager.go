package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

// Manager hands out one Guild per guild ID, creating it on first reference.
type Manager struct {
	opts     Options
	deps     Deps
	defaults func(guildID string) guild.Settings
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	guilds map[string]*Guild
	last   lastStart
}

type lastStart struct {
	guildID string
	track   provider.Track
	at      time.Time
}

// NewManager builds a registry. defaults supplies settings for guilds that
// have no saved snapshot.
func NewManager(ctx context.Context, opts Options, deps Deps, defaults func(guildID string) guild.Settings) *Manager {
	opts.applyDefaults()
	if defaults == nil {
		defaults = func(string) guild.Settings { return guild.Settings{Volume: 100} }
	}
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		opts:     opts,
		defaults: defaults,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		guilds:   make(map[string]*Guild),
	}
	observer := deps.OnStart
	deps.OnStart = func(guildID string, t provider.Track) {
		m.mu.Lock()
		m.last = lastStart{guildID: guildID, track: t, at: time.Now()}
		m.mu.Unlock()
		if observer != nil {
			observer(guildID, t)
		}
	}
	m.deps = deps
	return m
}

// Guild returns the guild's handle, loading its snapshot on first use.
func (m *Manager) Guild(ctx context.Context, guildID string) (*Guild, error) {
	m.mu.Lock()
	if g, ok := m.guilds[guildID]; ok {
		m.mu.Unlock()
		return g, nil
	}
	m.mu.Unlock()

	snap := guild.Snapshot{GuildID: guildID, Settings: m.defaults(guildID)}
	if m.deps.Store != nil {
		loaded, ok, err := m.deps.Store.LoadSnapshot(ctx, guildID)
		if err != nil {
			return nil, fmt.Errorf("load guild %s: %w", guildID, err)
		}
		if ok {
			snap = loaded
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guilds[guildID]; ok {
		return g, nil
	}
	if m.ctx.Err() != nil {
		return nil, errGuildShutdown
	}
	g := newGuild(guildID, snap, m.opts, m.deps)
	m.guilds[guildID] = g
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		g.run(m.ctx)
	}()
	m.log.Info("guild session started", slog.String("guild", guildID), slog.Int("queued", len(snap.Tracks)))
	return g, nil
}

// Lookup returns an existing guild without creating it.
func (m *Manager) Lookup(guildID string) (*Guild, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	return g, ok
}

// Reset clears guildID's queue and restores its configured autofill defaults.
func (m *Manager) Reset(ctx context.Context, guildID string) (int, error) {
	g, err := m.Guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return g.Reset(m.defaults(guildID).Autofill), nil
}

func (m *Manager) GuildIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.guilds))
	for id := range m.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NowPlaying reports the most recently started track across all guilds, if
// that guild is still playing it.
func (m *Manager) NowPlaying() (guild.View, bool) {
	m.mu.Lock()
	last := m.last
	g := m.guilds[last.guildID]
	m.mu.Unlock()
	if g == nil {
		return guild.View{}, false
	}
	v := g.View()
	if v.Current == nil {
		return v, false
	}
	return v, true
}

// Release stops and forgets a guild, e.g. when its voice session ends.
func (m *Manager) Release(guildID string) {
	m.mu.Lock()
	g, ok := m.guilds[guildID]
	delete(m.guilds, guildID)
	m.mu.Unlock()
	if ok {
		g.persist()
		g.close()
	}
}

// Close stops every guild and waits for their loops to exit.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	guilds := make([]*Guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		guilds = append(guilds, g)
	}
	m.mu.Unlock()
	for _, g := range guilds {
		g.persist()
		g.close()
	}
	m.wg.Wait()
}
