package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tunez/guildradio/internal/httpapi"
	"github.com/tunez/guildradio/internal/notify"
	"github.com/tunez/guildradio/internal/provider"
)

func TestPlainStripsMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**[Song](https://x.test/1)**", "Song <https://x.test/1>"},
		{"*by Band*", "by Band"},
		{"requested by <@42>", "requested by user 42"},
		{"**Song**  *(~filler~)*", "Song  (filler)"},
		{"`/play`", "/play"},
	}
	for _, tt := range tests {
		if got := plain(tt.in); got != tt.want {
			t.Errorf("plain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := plain("starts <t:0:R>"); strings.Contains(got, "<t:") {
		t.Errorf("timestamp not rendered: %q", got)
	}
}

func TestRenderCard(t *testing.T) {
	tr := provider.Track{Title: "Night Drive", Artist: "Kavinsky", DurationMs: 200000, RequesterName: "ana"}
	out := Render(notify.NowPlaying(tr, nil), NoColor(), 60)
	for _, want := range []string{"Night Drive", "Kavinsky"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "**") {
		t.Errorf("markdown leaked:\n%s", out)
	}
}

func TestNotifierPostDelete(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf, NoColor())
	ctx := context.Background()

	ref, err := n.Post(ctx, "g1", notify.Status("Skipped", "**Song**"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if n.Live() != 1 || !strings.Contains(buf.String(), "Skipped") {
		t.Fatalf("card not printed: live=%d out=%q", n.Live(), buf.String())
	}
	if err := n.Delete(ctx, "g1", ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n.Live() != 0 || !strings.Contains(buf.String(), "(dismissed: Skipped)") {
		t.Fatalf("delete not noted: %q", buf.String())
	}
	if err := n.Delete(ctx, "g1", ref); err == nil {
		t.Fatal("second delete should fail")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := n.Post(cancelled, "g1", notify.QueueEmpty()); err == nil {
		t.Fatal("post with cancelled context should fail")
	}
}

func TestGetTheme(t *testing.T) {
	if GetTheme("mono", false).Name != "mono" {
		t.Error("mono not found")
	}
	if GetTheme("nope", false).Name != "radio" {
		t.Error("unknown theme should fall back to radio")
	}
	if GetTheme("mono", true).Name != "nocolor" {
		t.Error("noColor should win")
	}
}

type fakeSource struct {
	guilds []string
	queues map[string]httpapi.QueueStatus
}

func (f fakeSource) Health(ctx context.Context) (httpapi.Health, error) {
	return httpapi.Health{Status: "ok", Guilds: f.guilds}, nil
}

func (f fakeSource) Queue(ctx context.Context, guildID string) (httpapi.QueueStatus, error) {
	qs, ok := f.queues[guildID]
	if !ok {
		return httpapi.QueueStatus{}, errors.New("404 Not Found")
	}
	return qs, nil
}

func step(t *testing.T, m Monitor, msg tea.Msg) (Monitor, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Monitor)
	if !ok {
		t.Fatalf("update returned %T", next)
	}
	return mm, cmd
}

func TestMonitorFollowsGuilds(t *testing.T) {
	wait := int64(90000)
	src := fakeSource{
		guilds: []string{"g1", "g2"},
		queues: map[string]httpapi.QueueStatus{
			"g1": {
				GuildID: "g1", Phase: "playing", Autofill: "idle", Volume: 80,
				Current: &httpapi.TrackStatus{Title: "First", Artist: "A", DurationMs: 180000, ElapsedMs: 30000, Requester: "ana"},
				Queue:   []httpapi.TrackStatus{{Position: 1, Title: "Second", Artist: "B", StartsInMs: &wait}},
			},
			"g2": {GuildID: "g2", Phase: "idle", Autofill: "scheduled", Volume: 100},
		},
	}
	m := NewMonitor(src, NoColor(), "", 0)
	if !strings.Contains(m.View(), "Waiting for a guild") {
		t.Fatalf("expected waiting view:\n%s", m.View())
	}

	m, cmd := step(t, m, healthMsg{health: httpapi.Health{Guilds: src.guilds}})
	if m.Selected() != "g1" || cmd == nil {
		t.Fatalf("expected g1 selected with a queue poll, got %q", m.Selected())
	}
	m, _ = step(t, m, cmd())
	view := m.View()
	for _, want := range []string{"First", "Second", "in 1:30", "volume 80%", "playing"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m, cmd = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.Selected() != "g2" || cmd == nil {
		t.Fatalf("tab should select g2, got %q", m.Selected())
	}
	// a late answer for the old guild is dropped
	m, _ = step(t, m, queueMsg{guildID: "g1", status: src.queues["g1"]})
	if strings.Contains(m.View(), "First") {
		t.Fatal("stale queue rendered")
	}
	m, _ = step(t, m, cmd())
	if !strings.Contains(m.View(), "Nothing playing") || !strings.Contains(m.View(), "(empty)") {
		t.Fatalf("unexpected idle view:\n%s", m.View())
	}

	m, _ = step(t, m, queueMsg{guildID: "g2", err: errors.New("boom")})
	if !strings.Contains(m.View(), "error: boom") {
		t.Fatalf("error not shown:\n%s", m.View())
	}

	if _, cmd = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q should quit")
	} else if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should return tea.Quit")
	}
}

func TestMonitorPinnedGuild(t *testing.T) {
	m := NewMonitor(fakeSource{}, NoColor(), "g9", 0)
	if m.Selected() != "g9" {
		t.Fatalf("pinned guild not selected")
	}
	m, _ = step(t, m, healthMsg{health: httpapi.Health{Guilds: []string{"g1", "g9"}}})
	if m.Selected() != "g9" || len(m.guilds) != 2 {
		t.Fatalf("merge changed selection: %q %v", m.Selected(), m.guilds)
	}
}
