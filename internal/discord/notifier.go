package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/notify"
)

var ErrNoChannel = errors.New("discord: no notification channel for guild")

// Notifier posts cards as channel embeds. The channel is the guild's
// configured one, else the channel the guild's last command came from.
type Notifier struct {
	s *discordgo.Session
	// Configured returns the configured channel for a guild, or "".
	Configured func(guildID string) string

	mu   sync.Mutex
	last map[string]string
}

func NewNotifier(s *discordgo.Session, configured func(guildID string) string) *Notifier {
	return &Notifier{s: s, Configured: configured, last: make(map[string]string)}
}

// Remember records the channel a command arrived in.
func (n *Notifier) Remember(guildID, channelID string) {
	if channelID == "" {
		return
	}
	n.mu.Lock()
	n.last[guildID] = channelID
	n.mu.Unlock()
}

func (n *Notifier) channelFor(guildID string) string {
	if n.Configured != nil {
		if ch := n.Configured(guildID); ch != "" {
			return ch
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[guildID]
}

func (n *Notifier) Post(ctx context.Context, guildID string, card notify.Card) (string, error) {
	channelID := n.channelFor(guildID)
	if channelID == "" {
		return "", ErrNoChannel
	}
	msg, err := n.s.ChannelMessageSendEmbed(channelID, Embed(card), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post %s card: %w", card.Kind, err)
	}
	return formatRef(channelID, msg.ID), nil
}

func (n *Notifier) Delete(ctx context.Context, guildID, ref string) error {
	channelID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := n.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		var rest *discordgo.RESTError
		// 10008: unknown message, already gone
		if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMessage {
			return nil
		}
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

func formatRef(channelID, messageID string) string {
	return channelID + "/" + messageID
}

func parseRef(ref string) (channelID, messageID string, err error) {
	channelID, messageID, ok := strings.Cut(ref, "/")
	if !ok || channelID == "" || messageID == "" {
		return "", "", fmt.Errorf("discord: malformed message ref %q", ref)
	}
	return channelID, messageID, nil
}
