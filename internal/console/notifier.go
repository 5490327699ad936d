// Package console is the terminal surface used when the radio plays locally:
// cards are printed instead of posted, and a monitor TUI follows the HTTP API.
package console

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/tunez/guildradio/internal/notify"
)

// Notifier prints cards to a writer. Refs are random ids so Delete can tell
// live cards from stale ones.
type Notifier struct {
	w     io.Writer
	theme Theme
	width int

	mu    sync.Mutex
	cards map[string]string
}

func NewNotifier(w io.Writer, theme Theme) *Notifier {
	return &Notifier{w: w, theme: theme, width: 72, cards: make(map[string]string)}
}

func (n *Notifier) Post(ctx context.Context, guildID string, card notify.Card) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := uuid.NewString()
	out := Render(card, n.theme, n.width)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintln(n.w, out); err != nil {
		return "", fmt.Errorf("print card: %w", err)
	}
	n.cards[ref] = card.Title
	return ref, nil
}

// Delete forgets a card; a printed card cannot be taken back, so a dim note is
// written instead.
func (n *Notifier) Delete(ctx context.Context, guildID, ref string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	title, ok := n.cards[ref]
	if !ok {
		return fmt.Errorf("console: unknown card %s", ref)
	}
	delete(n.cards, ref)
	_, err := fmt.Fprintln(n.w, n.theme.Dim.Render("  (dismissed: "+plain(title)+")"))
	return err
}

// Live is the number of cards not yet deleted.
func (n *Notifier) Live() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cards)
}

// Render draws a card as a bordered box.
func Render(c notify.Card, t Theme, width int) string {
	var b strings.Builder
	b.WriteString(t.KindTitle(c.Kind).Render(plain(c.Title)))
	if body := plain(c.Body); body != "" {
		b.WriteString("\n" + t.Text.Render(body))
	}
	for _, f := range c.Fields {
		b.WriteString("\n" + t.Dim.Render(plain(f.Name)+": ") + t.Text.Render(plain(f.Value)))
	}
	if c.Footer != "" {
		b.WriteString("\n" + t.Dim.Render(plain(c.Footer)))
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border.GetForeground()).
		Padding(0, 1).
		Width(width)
	return box.Render(b.String())
}

var (
	mdLink      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdTimestamp = regexp.MustCompile(`<t:(\d+):[a-zA-Z]>`)
	mdMention   = regexp.MustCompile(`<@!?(\d+)>`)
)

// plain strips the Discord markdown cards are written in.
func plain(s string) string {
	s = mdLink.ReplaceAllString(s, "$1 <$2>")
	s = mdTimestamp.ReplaceAllStringFunc(s, func(m string) string {
		sec, err := strconv.ParseInt(mdTimestamp.FindStringSubmatch(m)[1], 10, 64)
		if err != nil {
			return ""
		}
		return time.Unix(sec, 0).Format("15:04")
	})
	s = mdMention.ReplaceAllString(s, "user $1")
	s = strings.ReplaceAll(s, "*(~filler~)*", "(filler)")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(s)
}
