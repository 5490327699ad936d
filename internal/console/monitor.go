package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tunez/guildradio/internal/eta"
	"github.com/tunez/guildradio/internal/httpapi"
)

// StatusSource is what the monitor polls. *httpapi.Client satisfies it.
type StatusSource interface {
	Health(ctx context.Context) (httpapi.Health, error)
	Queue(ctx context.Context, guildID string) (httpapi.QueueStatus, error)
}

const DefaultPollInterval = 2 * time.Second

// Monitor is a read-only TUI following one guild's queue at a time.
type Monitor struct {
	src      StatusSource
	theme    Theme
	interval time.Duration

	guilds   []string
	selected int
	status   *httpapi.QueueStatus
	fetched  time.Time
	err      error
	width    int
	maxRows  int
}

func NewMonitor(src StatusSource, theme Theme, guildID string, interval time.Duration) Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := Monitor{src: src, theme: theme, interval: interval, width: 80, maxRows: 15}
	if guildID != "" {
		m.guilds = []string{guildID}
	}
	return m
}

type healthMsg struct {
	health httpapi.Health
	err    error
}

type queueMsg struct {
	guildID string
	status  httpapi.QueueStatus
	err     error
	at      time.Time
}

type tickMsg time.Time

func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.healthCmd(), m.tickCmd())
}

func (m Monitor) healthCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval*2)
		defer cancel()
		h, err := m.src.Health(ctx)
		return healthMsg{health: h, err: err}
	}
}

func (m Monitor) queueCmd(guildID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval*2)
		defer cancel()
		qs, err := m.src.Queue(ctx, guildID)
		return queueMsg{guildID: guildID, status: qs, err: err, at: time.Now()}
	}
}

func (m Monitor) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Selected is the guild being shown, empty before the first health poll.
func (m Monitor) Selected() string {
	if len(m.guilds) == 0 {
		return ""
	}
	return m.guilds[m.selected]
}

func (m Monitor) refresh() tea.Cmd {
	if g := m.Selected(); g != "" {
		return tea.Batch(m.healthCmd(), m.queueCmd(g))
	}
	return m.healthCmd()
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		case "tab", "right", "l":
			return m.cycle(1)
		case "shift+tab", "left", "h":
			return m.cycle(-1)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Height > 10 {
			m.maxRows = msg.Height - 10
		}
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tickCmd())
	case healthMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		before := m.Selected()
		m.mergeGuilds(msg.health.Guilds)
		if before == "" && m.Selected() != "" {
			return m, m.queueCmd(m.Selected())
		}
	case queueMsg:
		if msg.guildID != m.Selected() {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			m.status = nil
			return m, nil
		}
		m.err = nil
		st := msg.status
		m.status = &st
		m.fetched = msg.at
	}
	return m, nil
}

func (m Monitor) cycle(step int) (tea.Model, tea.Cmd) {
	if len(m.guilds) < 2 {
		return m, nil
	}
	m.selected = (m.selected + step + len(m.guilds)) % len(m.guilds)
	m.status = nil
	return m, m.queueCmd(m.Selected())
}

// mergeGuilds adds newly seen guilds and keeps the selection stable.
func (m *Monitor) mergeGuilds(ids []string) {
	seen := make(map[string]bool, len(m.guilds))
	for _, g := range m.guilds {
		seen[g] = true
	}
	for _, g := range ids {
		if !seen[g] {
			m.guilds = append(m.guilds, g)
			seen[g] = true
		}
	}
}

func (m Monitor) View() string {
	var b strings.Builder
	header := "guildradio"
	if g := m.Selected(); g != "" {
		header += fmt.Sprintf("  guild %s (%d/%d)", g, m.selected+1, len(m.guilds))
	}
	b.WriteString(m.theme.Title.Render(header) + "\n\n")

	if m.err != nil {
		b.WriteString(m.theme.Error.Render("error: "+m.err.Error()) + "\n\n")
	}
	switch {
	case m.Selected() == "":
		b.WriteString(m.theme.Dim.Render("Waiting for a guild...") + "\n")
	case m.status == nil:
		b.WriteString(m.theme.Dim.Render("Loading...") + "\n")
	default:
		b.WriteString(m.renderStatus(*m.status))
	}
	b.WriteString("\n" + m.theme.Dim.Render("tab/←/→ guild · r refresh · q quit"))
	return b.String()
}

func (m Monitor) renderStatus(qs httpapi.QueueStatus) string {
	var b strings.Builder
	b.WriteString(m.theme.Dim.Render(fmt.Sprintf("%s · autofill %s · volume %d%%", qs.Phase, qs.Autofill, qs.Volume)) + "\n\n")

	if c := qs.Current; c != nil {
		b.WriteString(m.theme.Accent.Render(c.Title) + "\n")
		b.WriteString(m.theme.Text.Render(c.Artist) + "\n")
		elapsed := time.Duration(c.ElapsedMs) * time.Millisecond
		if !m.fetched.IsZero() && qs.Phase == "playing" {
			elapsed += time.Since(m.fetched)
		}
		total := time.Duration(c.DurationMs) * time.Millisecond
		b.WriteString(m.progressBar(elapsed, total) + "\n")
		line := eta.Clock(elapsed)
		if total > 0 {
			line += " / " + eta.Clock(total)
		}
		b.WriteString(m.theme.Dim.Render(line+"  requested by "+c.Requester) + "\n")
	} else {
		b.WriteString(m.theme.Dim.Render("Nothing playing") + "\n")
	}

	b.WriteString("\n" + m.theme.Title.Render("Up Next") + "\n")
	if len(qs.Queue) == 0 {
		b.WriteString(m.theme.Dim.Render("(empty)") + "\n")
		return b.String()
	}
	for i, t := range qs.Queue {
		if i == m.maxRows {
			b.WriteString(m.theme.Dim.Render(fmt.Sprintf("… and %d more", len(qs.Queue)-i)) + "\n")
			break
		}
		b.WriteString(queueRow(m.theme, t) + "\n")
	}
	return b.String()
}

func queueRow(th Theme, t httpapi.TrackStatus) string {
	wait := "unknown"
	if t.StartsInMs != nil {
		wait = "in " + eta.Clock(time.Duration(*t.StartsInMs)*time.Millisecond)
	}
	row := fmt.Sprintf("%2d. %s - %s", t.Position, t.Artist, t.Title)
	if t.Autofill {
		row += " (filler)"
	}
	return th.Text.Render(row) + "  " + th.Dim.Render(wait)
}

func (m Monitor) progressBar(elapsed, total time.Duration) string {
	width := m.width - 4
	if width < 10 {
		width = 10
	}
	pct := 0.0
	if total > 0 {
		pct = float64(elapsed) / float64(total)
	}
	if pct > 1 {
		pct = 1
	}
	filled := int(float64(width) * pct)
	return m.theme.Accent.Render(strings.Repeat("━", filled)) + m.theme.Dim.Render(strings.Repeat("─", width-filled))
}

// RunMonitor blocks until the user quits or ctx ends.
func RunMonitor(ctx context.Context, src StatusSource, theme Theme, guildID string, interval time.Duration) error {
	p := tea.NewProgram(NewMonitor(src, theme, guildID, interval), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
