package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Roster reads voice membership from the session's state cache.
type Roster struct {
	s *discordgo.Session
}

func NewRoster(s *discordgo.Session) *Roster { return &Roster{s: s} }

// CurrentListeners lists the non-bot users sharing the bot's voice channel.
func (r *Roster) CurrentListeners(ctx context.Context, guildID string) ([]string, error) {
	states, err := r.voiceStates(guildID)
	if err != nil {
		return nil, err
	}
	botID := r.s.State.User.ID
	channelID := botChannel(states, botID)
	if channelID == "" {
		return nil, nil
	}
	return listenersIn(states, channelID, botID, r.isBot(guildID)), nil
}

// UserChannel is the voice channel a user is in, or "".
func (r *Roster) UserChannel(guildID, userID string) string {
	vs, err := r.s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// ListenerCount counts the humans in channelID.
func (r *Roster) ListenerCount(guildID, channelID string) int {
	states, err := r.voiceStates(guildID)
	if err != nil {
		return 0
	}
	return len(listenersIn(states, channelID, r.s.State.User.ID, r.isBot(guildID)))
}

func (r *Roster) voiceStates(guildID string) ([]*discordgo.VoiceState, error) {
	g, err := r.s.State.Guild(guildID)
	if err != nil {
		return nil, err
	}
	r.s.State.RLock()
	defer r.s.State.RUnlock()
	out := make([]*discordgo.VoiceState, len(g.VoiceStates))
	copy(out, g.VoiceStates)
	return out, nil
}

func (r *Roster) isBot(guildID string) func(string) bool {
	return func(userID string) bool {
		m, err := r.s.State.Member(guildID, userID)
		return err == nil && m.User != nil && m.User.Bot
	}
}

func botChannel(states []*discordgo.VoiceState, botID string) string {
	for _, vs := range states {
		if vs.UserID == botID {
			return vs.ChannelID
		}
	}
	return ""
}

func listenersIn(states []*discordgo.VoiceState, channelID, botID string, isBot func(string) bool) []string {
	var out []string
	for _, vs := range states {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		if isBot != nil && isBot(vs.UserID) {
			continue
		}
		out = append(out, vs.UserID)
	}
	return out
}
