// Package discord is the chat surface of the radio: slash commands, voice
// connections, the embed notifier and the listening presence.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/playback"
	"github.com/tunez/guildradio/internal/provider"
	"github.com/tunez/guildradio/internal/queue"
	"github.com/tunez/guildradio/internal/store"
)

// Library backs like, history and top.
type Library interface {
	Like(ctx context.Context, guildID, userID string, t provider.Track) (int, error)
	RecentPlays(ctx context.Context, guildID string, limit int) ([]store.Play, error)
	TopTracks(ctx context.Context, guildID string, limit int) ([]store.TrackCount, error)
	ClearPlays(ctx context.Context, guildID string) (int64, error)
}

type Options struct {
	// GuildIDs limits command registration to these guilds; empty registers globally.
	GuildIDs        []string
	AdminRoleIDs    []string
	AutofillFeature bool
	AutofillDelay   time.Duration
	// Fetcher expands playlist and profile URLs given to play.
	Fetcher        provider.SourceFetcher
	PlaylistLimit  int
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

type Router struct {
	s        *discordgo.Session
	mgr      *playback.Manager
	notifier *Notifier
	voice    *Voice
	roster   *Roster
	library  Library
	opts     Options
	log      *slog.Logger

	adminRoleIDs []string
}

func NewRouter(s *discordgo.Session, mgr *playback.Manager, notifier *Notifier, voice *Voice, roster *Roster, library Library, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PlaylistLimit <= 0 {
		opts.PlaylistLimit = 50
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 2 * time.Minute
	}
	return &Router{
		s:            s,
		mgr:          mgr,
		notifier:     notifier,
		voice:        voice,
		roster:       roster,
		library:      library,
		opts:         opts,
		log:          opts.Logger.With(slog.String("component", "discord")),
		adminRoleIDs: opts.AdminRoleIDs,
	}
}

// Register overwrites the application's slash commands.
func (r *Router) Register() error {
	appID := r.s.State.User.ID
	targets := r.opts.GuildIDs
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, gid := range targets {
		if _, err := r.s.ApplicationCommandBulkOverwrite(appID, gid, Commands); err != nil {
			return fmt.Errorf("register commands for %q: %w", gid, err)
		}
	}
	return nil
}

func (r *Router) Handlers() {
	r.s.AddHandler(r.onInteraction)
	r.s.AddHandler(r.onVoiceStateUpdate)
}

// ephemeralCommands answer only the caller.
var ephemeralCommands = map[string]bool{
	"like":       true,
	"autofill":   true,
	"queuelimit": true,
	"reload":        true,
	"history_clear": true,
	"reset_state":   true,
}

// adminCommands need owner, Administrator or an admin role; the value lists
// the guarded subcommands, nil guards the whole command.
var adminCommands = map[string][]string{
	"reload":        nil,
	"history_clear": nil,
	"reset_state":   nil,
	"autofill":      {"on", "off", "set"},
	"queuelimit":    {"on", "off", "set"},
}

func needsAdmin(name, sub string) bool {
	subs, ok := adminCommands[name]
	if !ok {
		return false
	}
	if subs == nil {
		return true
	}
	for _, s := range subs {
		if s == sub {
			return true
		}
	}
	return false
}

func (r *Router) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := ic.ApplicationCommandData()
	if ic.GuildID == "" || ic.Member == nil || ic.Member.User == nil {
		_ = s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "Use radio commands inside a server."},
		})
		return
	}
	log := r.log.With(slog.String("command", data.Name), slog.String("guild", ic.GuildID), slog.String("user", ic.Member.User.ID))
	log.Debug("slash command")

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in slash command", slog.Any("panic", rec))
			reply(s, ic, failure("Something went wrong running that command."))
		}
	}()

	_ = deferReply(s, ic, ephemeralCommands[data.Name])
	r.notifier.Remember(ic.GuildID, ic.ChannelID)

	// resolved at most once per interaction
	isPrivileged := sync.OnceValue(func() bool { return r.isPrivileged(s, ic) })
	if needsAdmin(data.Name, subcommandName(ic)) && !isPrivileged() {
		reply(s, ic, failure("🔒 Only server admins can do that."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.CommandTimeout)
	defer cancel()

	var out []*discordgo.MessageEmbed
	switch data.Name {
	case "play":
		out = r.play(ctx, ic, isPrivileged())
	case "join":
		out = r.join(ctx, ic)
	case "skip":
		out = r.skip(ctx, ic)
	case "stop":
		out = r.stop(ctx, ic)
	case "queue":
		out = r.queue(ctx, ic)
	case "queue_clear":
		out = r.queueClear(ctx, ic)
	case "nowplaying":
		out = r.nowPlaying(ctx, ic)
	case "shuffle":
		out = r.shuffle(ctx, ic)
	case "remove":
		out = r.remove(ctx, ic)
	case "move":
		out = r.move(ctx, ic)
	case "volume":
		out = r.volume(ctx, ic)
	case "like":
		out = r.like(ctx, ic)
	case "history":
		out = r.history(ctx, ic)
	case "history_clear":
		out = r.historyClear(ctx, ic)
	case "top":
		out = r.top(ctx, ic)
	case "autofill":
		out = r.autofill(ctx, ic)
	case "queuelimit":
		out = r.queueLimit(ctx, ic)
	case "leave":
		out = r.leave(ctx, ic)
	case "reload":
		out = r.reload(ctx, ic)
	case "reset_state":
		out = r.resetState(ctx, ic)
	default:
		out = []*discordgo.MessageEmbed{failure("Unknown command.")}
	}
	reply(s, ic, out...)
}

func one(e *discordgo.MessageEmbed) []*discordgo.MessageEmbed { return []*discordgo.MessageEmbed{e} }

// session returns an existing guild without creating one.
func (r *Router) session(ic *discordgo.InteractionCreate) (*playback.Guild, bool) {
	return r.mgr.Lookup(ic.GuildID)
}

func (r *Router) play(ctx context.Context, ic *discordgo.InteractionCreate, privileged bool) []*discordgo.MessageEmbed {
	query, _ := optStr(ic, "query")
	locators := r.expand(ctx, splitQuery(query))
	if len(locators) == 0 {
		return one(failure("Give me a song or playlist URL, e.g. `/play query:https://…`."))
	}

	userID := ic.Member.User.ID
	if r.voice.ChannelID(ic.GuildID) == "" {
		channelID := r.roster.UserChannel(ic.GuildID, userID)
		if channelID == "" {
			return one(failure("You need to be in a voice channel to play music!"))
		}
		if err := r.voice.Join(ctx, ic.GuildID, channelID); err != nil {
			r.log.Warn("join voice", slog.String("guild", ic.GuildID), slog.Any("err", err))
			return one(Embed(notify.Card{Kind: notify.KindError, Title: "❌ Voice Connection Error", Body: "Couldn't join your voice channel. Please check my permissions and try again."}))
		}
	}

	g, err := r.mgr.Guild(ctx, ic.GuildID)
	if err != nil {
		return one(failure("The radio isn't available right now."))
	}
	res, err := g.Enqueue(ctx, playback.Request{
		RequesterID:   userID,
		RequesterName: displayName(ic.Member),
		Locators:      locators,
		Privileged:    privileged,
	})
	if err != nil {
		return one(failure("Couldn't queue that: " + err.Error()))
	}
	return addedEmbeds(res, g.View())
}

// addedEmbeds turns an enqueue result into the reply shown to the requester.
func addedEmbeds(res playback.Result, v guild.View) []*discordgo.MessageEmbed {
	if res.Denied {
		return one(status("🚫 Per-User Queue Limit", res.Notice))
	}
	if len(res.Added) == 0 {
		return one(failure("Couldn't load any of those songs."))
	}
	var card notify.Card
	if len(res.Added) == 1 {
		t := res.Added[0]
		pos := res.FirstPosition
		if v.Current != nil && v.Current.Key() == t.Key() && v.Current.RequestedAt == t.RequestedAt {
			pos = 0
		}
		card = notify.Added(t, pos, res.Wait)
	} else {
		card = notify.AddedMany(res.Added, res.FirstPosition, "")
	}
	if res.PurgedFiller > 0 {
		card.Footer = fmt.Sprintf("Removed %d filler track(s) to make room.", res.PurgedFiller)
	}
	out := one(Embed(card))
	if res.Notice != "" {
		out = append(out, status("🚫 Queue Limit", res.Notice))
	}
	return out
}

// expand replaces playlist and profile URLs with their entries.
func (r *Router) expand(ctx context.Context, refs []string) []string {
	var out []string
	for _, ref := range refs {
		if !provider.ValidLocator(ref) {
			continue
		}
		if r.opts.Fetcher == nil || !isCollection(ref) {
			out = append(out, ref)
			continue
		}
		entries, err := r.opts.Fetcher.Fetch(ctx, ref, r.opts.PlaylistLimit)
		if err != nil || len(entries) == 0 {
			r.log.Info("playlist expansion failed, queueing as one song", slog.String("ref", ref), slog.Any("err", err))
			out = append(out, ref)
			continue
		}
		out = append(out, entries...)
	}
	return out
}

func (r *Router) join(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	channelID, ok := optChannelID(ic, "channel")
	if !ok {
		channelID = r.roster.UserChannel(ic.GuildID, ic.Member.User.ID)
	}
	if channelID == "" {
		return one(failure("Join a voice channel first, or pick one."))
	}
	if err := r.voice.Join(ctx, ic.GuildID, channelID); err != nil {
		r.log.Warn("join voice", slog.String("guild", ic.GuildID), slog.Any("err", err))
		return one(Embed(notify.Card{Kind: notify.KindError, Title: "❌ Voice Connection Error", Body: "Couldn't join <#" + channelID + ">. Please check my permissions and try again."}))
	}
	if g, err := r.mgr.Guild(ctx, ic.GuildID); err == nil && !g.ListenersJoined() {
		// a queue restored at startup waits for a voice connection
		if v := g.View(); v.Current == nil && len(v.Queue) > 0 {
			if err := g.PlayNext(ctx); err != nil {
				r.log.Warn("resume queue", slog.String("guild", ic.GuildID), slog.Any("err", err))
			}
		}
	}
	return one(status("✅ Joined", "Joined <#"+channelID+"> 🎧"))
}

func (r *Router) skip(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Nothing is playing!"))
	}
	if filler, _ := optBool(ic, "filler"); filler {
		skipped, purged := g.SkipFiller(ctx)
		return one(status("📻 Filler Skip", fillerSkipText(skipped, purged)))
	}
	if _, err := g.Skip(ctx); err != nil {
		return one(failure("Nothing is playing!"))
	}
	return one(status("⏭️ Skipped", "Skipped the current track! 🚀"))
}

func fillerSkipText(skippedCurrent bool, purged int) string {
	var parts []string
	if skippedCurrent {
		parts = append(parts, "Skipped the **current filler** track.")
	}
	if purged > 0 {
		parts = append(parts, fmt.Sprintf("🧹 Removed **%d** filler track(s) from the queue.", purged))
	}
	if len(parts) == 0 {
		return "No filler tracks were playing or queued."
	}
	return strings.Join(parts, "\n")
}

func (r *Router) stop(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if ok {
		g.Stop(ctx)
	}
	return one(status("⏹️ Stopped", "Stopped playback and cleared the queue."))
}

func (r *Router) queue(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(Embed(notify.QueueListing(nil, nil)))
	}
	v := g.View()
	out := []*discordgo.MessageEmbed{}
	if v.Current != nil {
		out = append(out, Embed(nowPlayingCard(v, time.Now())))
	}
	return append(out, Embed(notify.QueueListing(v.Queue, eta.AllSlots(v, time.Now()))))
}

func (r *Router) queueClear(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Queue is empty!"))
	}
	n := g.ClearQueue()
	return one(status("🧹 Queue Cleared", fmt.Sprintf("Removed %d queued track(s). The current song keeps playing.", n)))
}

func (r *Router) nowPlaying(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Nothing is playing!"))
	}
	v := g.View()
	if v.Current == nil {
		return one(failure("Nothing is playing!"))
	}
	return one(Embed(nowPlayingCard(v, time.Now())))
}

// nowPlayingCard adds elapsed time to the standard card.
func nowPlayingCard(v guild.View, now time.Time) notify.Card {
	c := notify.NowPlaying(*v.Current, v.Queue)
	if !v.StartedAt.IsZero() {
		elapsed := now.Sub(v.StartedAt)
		total := "?"
		if d, ok := v.Current.Duration(); ok {
			total = eta.Clock(d)
		}
		c.Footer = fmt.Sprintf("%s / %s", eta.Clock(elapsed), total)
	}
	return c
}

func (r *Router) shuffle(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Queue is empty! No songs to shuffle."))
	}
	if err := g.Shuffle(); err != nil {
		return one(failure("Queue is empty! No songs to shuffle."))
	}
	return one(status("🔀 Shuffled", "Queue has been shuffled! 🎲"))
}

func (r *Router) remove(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	pos, _ := optInt(ic, "position")
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Queue is empty!"))
	}
	t, err := g.Remove(pos)
	if errors.Is(err, queue.ErrNotFound) {
		n := len(g.View().Queue)
		if n == 0 {
			return one(failure("Queue is empty!"))
		}
		return one(failure(fmt.Sprintf("Invalid position! Must be between 1 and %d.", n)))
	}
	if err != nil {
		return one(failure(err.Error()))
	}
	return one(status("🗑️ Removed", fmt.Sprintf("Removed: %s from position %d", notify.TitleLink(t), pos)))
}

func (r *Router) move(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	from, _ := optInt(ic, "from")
	to, _ := optInt(ic, "to")
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Queue is empty!"))
	}
	if err := g.Move(from, to); err != nil {
		n := len(g.View().Queue)
		return one(failure(fmt.Sprintf("Invalid positions! Both must be between 1 and %d.", n)))
	}
	return one(status("↕️ Moved", fmt.Sprintf("Moved the song at #%d to #%d.", from, to)))
}

func (r *Router) volume(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	level, _ := optInt(ic, "level")
	g, err := r.mgr.Guild(ctx, ic.GuildID)
	if err != nil {
		return one(failure("The radio isn't available right now."))
	}
	if err := g.SetVolume(level); err != nil {
		return one(failure("Volume must be between 0 and 200 (100 = default)."))
	}
	return one(status("🔊 Volume", fmt.Sprintf("Volume set to %d%%! 🎙️", level)))
}

func (r *Router) like(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	if r.library == nil {
		return one(failure("Likes are not available."))
	}
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Nothing is playing!"))
	}
	v := g.View()
	if v.Current == nil {
		return one(failure("Nothing is playing!"))
	}
	n, err := r.library.Like(ctx, ic.GuildID, ic.Member.User.ID, *v.Current)
	if err != nil {
		r.log.Warn("like", slog.String("guild", ic.GuildID), slog.Any("err", err))
		return one(failure("Couldn't save your like, try again later."))
	}
	times := "time"
	if n != 1 {
		times = "times"
	}
	return one(status("❤️ Liked", fmt.Sprintf("You liked %s (%d %s). Autofill will play it more when you're listening.", notify.TitleLink(*v.Current), n, times)))
}

func countOption(ic *discordgo.InteractionCreate) int {
	n, ok := optInt(ic, "count")
	if !ok || n < 1 {
		return 10
	}
	if n > 25 {
		return 25
	}
	return n
}

func (r *Router) history(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	if r.library == nil {
		return one(failure("History is not available."))
	}
	plays, err := r.library.RecentPlays(ctx, ic.GuildID, countOption(ic))
	if err != nil {
		r.log.Warn("history", slog.String("guild", ic.GuildID), slog.Any("err", err))
		return one(failure("Couldn't load the history."))
	}
	return one(Embed(historyCard(plays)))
}

func (r *Router) historyClear(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	if r.library == nil {
		return one(failure("History is not available."))
	}
	scope, _ := optStr(ic, "scope")
	guildID, problem := historyScope(scope, ic.GuildID)
	if problem != "" {
		return one(failure(problem))
	}
	n, err := r.library.ClearPlays(ctx, guildID)
	if err != nil {
		r.log.Warn("history clear", slog.String("guild", ic.GuildID), slog.String("scope", scope), slog.Any("err", err))
		return one(failure("Failed to clear history: " + err.Error()))
	}
	r.log.Info("history cleared", slog.String("guild", ic.GuildID), slog.String("scope", scope), slog.Int64("plays", n))
	if guildID == "" {
		return one(status("🧨 All History Cleared", fmt.Sprintf("Removed **%d** play(s) across every server.", n)))
	}
	return one(status("✅ History Cleared", fmt.Sprintf("Removed **%d** play(s) for this server.", n)))
}

// historyScope maps a history_clear scope to the guild filter handed to the
// store, empty meaning every guild.
func historyScope(scope, guildID string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", "guild":
		return guildID, ""
	case "all":
		return "", ""
	}
	return "", "Invalid scope. Use `guild` or `all`."
}

func historyCard(plays []store.Play) notify.Card {
	if len(plays) == 0 {
		return notify.Status("🕘 History", "Nothing has been played yet.")
	}
	lines := make([]string, 0, len(plays))
	for i, p := range plays {
		t := provider.Track{Title: p.Title, Artist: p.Artist, PageURL: pageOf(p.Locator), Autofill: p.Autofill}
		lines = append(lines, fmt.Sprintf("%d. %s%s %s • <t:%d:R>", i+1, notify.TitleLink(t), notify.Badge(t), notify.ArtistLine(t), p.StartedAt.Unix()))
	}
	return notify.Status("🕘 History", strings.Join(lines, "\n"))
}

func (r *Router) top(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	if r.library == nil {
		return one(failure("Stats are not available."))
	}
	counts, err := r.library.TopTracks(ctx, ic.GuildID, countOption(ic))
	if err != nil {
		r.log.Warn("top", slog.String("guild", ic.GuildID), slog.Any("err", err))
		return one(failure("Couldn't load the stats."))
	}
	return one(Embed(topCard(counts)))
}

func topCard(counts []store.TrackCount) notify.Card {
	if len(counts) == 0 {
		return notify.Status("🏆 Top Songs", "No requests yet.")
	}
	lines := make([]string, 0, len(counts))
	for i, c := range counts {
		t := provider.Track{Title: c.Title, Artist: c.Artist, PageURL: pageOf(c.Locator)}
		plays := "plays"
		if c.Plays == 1 {
			plays = "play"
		}
		lines = append(lines, fmt.Sprintf("%d. %s %s • %d %s", i+1, notify.TitleLink(t), notify.ArtistLine(t), c.Plays, plays))
	}
	return notify.Status("🏆 Top Songs", strings.Join(lines, "\n"))
}

func pageOf(locator string) string {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return locator
	}
	return ""
}

func (r *Router) autofill(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	sub := subcommandName(ic)
	if sub != "status" && sub != "off" && !r.opts.AutofillFeature {
		return one(failure("Autofill is disabled."))
	}
	g, err := r.mgr.Guild(ctx, ic.GuildID)
	if err != nil {
		return one(failure("The radio isn't available right now."))
	}
	switch sub {
	case "on":
		g.UpdateSettings(func(s *guild.Settings) { s.Autofill.Enabled = true })
		g.ListenersJoined()
		return one(status("🟢 Autofill Enabled", "Idle radio will resume after the queue finishes."))
	case "off":
		g.UpdateSettings(func(s *guild.Settings) { s.Autofill.Enabled = false })
		return one(status("🔴 Autofill Disabled", "Idle radio will no longer auto-resume."))
	case "set":
		source, _ := optStr(ic, "source")
		kind, _ := optStr(ic, "kind")
		src, problem := parseSource(kind, source)
		if problem != "" {
			return one(failure(problem))
		}
		g.UpdateSettings(func(s *guild.Settings) {
			s.Autofill = src
		})
		return one(status("🟢 Autofill Source Set", fmt.Sprintf("Autofill will pull from:\n`%s`\n(Starts **%s** after finishing when the queue is empty.)", src.SourceValue, eta.Clock(r.opts.AutofillDelay))))
	case "status":
		return one(status("ℹ️ Autofill Status", autofillStatusText(g.Settings().Autofill, r.opts.AutofillFeature, g.AutofillState(), r.opts.AutofillDelay)))
	}
	return one(failure("Use `/autofill on`, `off`, `set` or `status`."))
}

// parseSource validates a /autofill set source and returns the problem to show
// when it is unusable. A newly set source is always enabled.
func parseSource(kind, value string) (guild.Autofill, string) {
	value = strings.TrimSpace(value)
	switch guild.SourceKind(kind) {
	case "", guild.SourceURL:
		if !provider.ValidLocator(value) {
			return guild.Autofill{}, "`" + value + "` is not a URL I can read."
		}
		return guild.Autofill{Enabled: true, SourceKind: guild.SourceURL, SourceValue: value}, ""
	case guild.SourceCSV:
		if !strings.HasSuffix(strings.ToLower(value), ".csv") {
			return guild.Autofill{}, "Give the path of a `.csv` file."
		}
		return guild.Autofill{Enabled: true, SourceKind: guild.SourceCSV, SourceValue: value}, ""
	}
	return guild.Autofill{}, fmt.Sprintf("Unknown source kind %q.", kind)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func autofillStatusText(a guild.Autofill, feature bool, state autofill.State, delay time.Duration) string {
	enabled := "Disabled"
	if a.Enabled && feature {
		enabled = "Enabled"
	}
	source := "liked songs of current listeners"
	if a.Configured() {
		source = a.SourceValue
		if a.SourceKind == guild.SourceCSV {
			source = "CSV `" + a.SourceValue + "`"
		}
	}
	return fmt.Sprintf("**Feature:** %s\n**State:** %s (%s)\n**Source:** %s\n**Delay:** %s",
		onOff(feature), enabled, state, source, eta.Clock(delay))
}

func (r *Router) queueLimit(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, err := r.mgr.Guild(ctx, ic.GuildID)
	if err != nil {
		return one(failure("The radio isn't available right now."))
	}
	switch subcommandName(ic) {
	case "on":
		s := g.UpdateSettings(func(s *guild.Settings) { s.RateLimit.Enabled = true })
		return one(status("📦 Queue Limit", fmt.Sprintf("Queue limit is **ON** (max %d per add).", s.RateLimit.MaxPerAdd)))
	case "off":
		g.UpdateSettings(func(s *guild.Settings) { s.RateLimit.Enabled = false })
		return one(status("📦 Queue Limit", "Queue limit is **OFF**."))
	case "set":
		perAdd, _ := optInt(ic, "max_per_add")
		perUser, hasUser := optInt(ic, "max_per_user")
		s := g.UpdateSettings(func(s *guild.Settings) {
			s.RateLimit.MaxPerAdd = perAdd
			if hasUser && perUser >= 1 {
				s.RateLimit.MaxPerUser = perUser
			}
		})
		return one(status("📦 Queue Limit", fmt.Sprintf("Max songs per add set to **%d**, per user **%d**.", s.RateLimit.MaxPerAdd, s.RateLimit.MaxPerUser)))
	case "status":
		rl := g.Settings().RateLimit
		return one(status("ℹ️ Queue Limit Status", fmt.Sprintf("**State:** %s\n**Max per add:** %d\n**Max per user:** %d", onOff(rl.Enabled), rl.MaxPerAdd, rl.MaxPerUser)))
	}
	return one(failure("Use `/queuelimit on`, `off`, `set` or `status`."))
}

func (r *Router) leave(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	if r.voice.ChannelID(ic.GuildID) == "" {
		return one(failure("I'm not connected to a voice channel!"))
	}
	r.disconnect(ctx, ic.GuildID)
	return one(status("👋 Left", "Left the voice channel 🎧"))
}

// disconnect stops playback, drops filler and leaves voice. Human requests stay queued.
func (r *Router) disconnect(ctx context.Context, guildID string) {
	if g, ok := r.mgr.Lookup(guildID); ok {
		purged := g.Leave(ctx)
		r.log.Info("left voice session", slog.String("guild", guildID), slog.Int("filler_purged", purged))
	}
	if err := r.voice.Leave(guildID); err != nil && !errors.Is(err, ErrNotConnected) {
		r.log.Warn("leave voice", slog.String("guild", guildID), slog.Any("err", err))
	}
}

func (r *Router) reload(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	g, ok := r.session(ic)
	if !ok {
		return one(failure("Nothing to reload."))
	}
	if err := g.Reload(ctx); err != nil && !errors.Is(err, playback.ErrQueueEmpty) {
		return one(Embed(notify.Card{Kind: notify.KindError, Title: "❌ Reload Failed", Body: "Error: " + err.Error()}))
	}
	return one(status("✅ Reloaded", "Restarted the current song and cleared filler."))
}

func (r *Router) resetState(ctx context.Context, ic *discordgo.InteractionCreate) []*discordgo.MessageEmbed {
	n, err := r.mgr.Reset(ctx, ic.GuildID)
	if err != nil {
		return one(failure("The radio isn't available right now."))
	}
	return one(status("♻️ State Reset", fmt.Sprintf("Removed %d queued track(s) and restored the default autofill settings.", n)))
}

func (r *Router) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	botID := s.State.User.ID
	botChannelID := r.voice.ChannelID(vs.GuildID)

	if vs.UserID == botID {
		// Disconnected by a moderator or by Discord.
		if vs.ChannelID == "" && botChannelID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.CommandTimeout)
			defer cancel()
			if g, ok := r.mgr.Lookup(vs.GuildID); ok {
				g.Leave(ctx)
			}
			r.voice.Forget(vs.GuildID)
		}
		return
	}
	if botChannelID == "" {
		return
	}

	var before string
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	switch {
	case vs.ChannelID == botChannelID && before != botChannelID:
		if g, ok := r.mgr.Lookup(vs.GuildID); ok && g.ListenersJoined() {
			r.log.Debug("listener joined, autofill scheduled", slog.String("guild", vs.GuildID))
		}
	case before == botChannelID && vs.ChannelID != botChannelID:
		if r.roster.ListenerCount(vs.GuildID, botChannelID) == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.CommandTimeout)
			defer cancel()
			r.log.Info("voice channel empty, leaving", slog.String("guild", vs.GuildID))
			r.disconnect(ctx, vs.GuildID)
		}
	}
}
