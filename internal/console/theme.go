package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tunez/guildradio/internal/notify"
)

type Theme struct {
	Name    string
	Accent  lipgloss.Style
	Dim     lipgloss.Style
	Text    lipgloss.Style
	Title   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Border  lipgloss.Style
}

var themeRegistry = map[string]func() Theme{
	"radio":   Radio,
	"mono":    Monochrome,
	"nocolor": NoColor,
}

// GetTheme returns a theme by name, Radio when unknown. noColor always wins.
func GetTheme(name string, noColor bool) Theme {
	if noColor {
		return NoColor()
	}
	if fn, ok := themeRegistry[name]; ok {
		return fn()
	}
	return Radio()
}

// Radio is the default colorful theme.
func Radio() Theme {
	return Theme{
		Name:    "radio",
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6FF7")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6F93")),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E6E6FA")),
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8EEBFF")).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#1DB954")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")).Bold(true),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color("#7C7CFF")),
	}
}

// Monochrome is a grayscale theme.
func Monochrome() Theme {
	return Theme{
		Name:    "mono",
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Underline(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Bold(true),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// NoColor uses only bold and underline, for NO_COLOR terminals and logs.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:    "nocolor",
		Accent:  reset.Bold(true),
		Dim:     reset,
		Text:    reset,
		Title:   reset.Bold(true),
		Error:   reset.Bold(true),
		Success: reset.Bold(true),
		Warning: reset.Bold(true),
		Border:  reset,
	}
}

// KindTitle picks the title style of a card kind.
func (t Theme) KindTitle(k notify.Kind) lipgloss.Style {
	switch k {
	case notify.KindNowPlaying:
		return t.Success
	case notify.KindPlaybackError, notify.KindError:
		return t.Error
	case notify.KindStatus:
		return t.Warning
	case notify.KindAdded:
		return t.Accent
	}
	return t.Title
}
