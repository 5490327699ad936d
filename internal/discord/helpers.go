package discord

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/notify"
)

// deferReply acknowledges an interaction so slow commands have up to 15 minutes.
func deferReply(s *discordgo.Session, ic *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("defer interaction", slog.Any("err", err))
	}
	return err
}

// reply sends the follow-up for a deferred interaction, answering directly when
// the defer never reached Discord.
func reply(s *discordgo.Session, ic *discordgo.InteractionCreate, embeds ...*discordgo.MessageEmbed) {
	_, err := s.FollowupMessageCreate(ic.Interaction, true, &discordgo.WebhookParams{
		Embeds:          embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err == nil {
		return
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownWebhook {
		_ = s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds:          embeds,
				AllowedMentions: &discordgo.MessageAllowedMentions{},
			},
		})
		return
	}
	slog.Warn("reply to interaction", slog.Any("err", err))
}

func status(title, body string) *discordgo.MessageEmbed {
	return Embed(notify.Status(title, body))
}

func failure(body string) *discordgo.MessageEmbed {
	return Embed(notify.Error(body))
}

func commandOptions(ic *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	opts := ic.ApplicationCommandData().Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return opts[0].Options
	}
	return opts
}

func findOption(ic *discordgo.InteractionCreate, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range commandOptions(ic) {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func optStr(ic *discordgo.InteractionCreate, name string) (string, bool) {
	o := findOption(ic, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionString {
		return "", false
	}
	return o.StringValue(), true
}

func optInt(ic *discordgo.InteractionCreate, name string) (int, bool) {
	o := findOption(ic, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return int(o.IntValue()), true
}

func optBool(ic *discordgo.InteractionCreate, name string) (bool, bool) {
	o := findOption(ic, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionBoolean {
		return false, false
	}
	return o.BoolValue(), true
}

// optChannelID returns the raw ID so no state lookup is needed.
func optChannelID(ic *discordgo.InteractionCreate, name string) (string, bool) {
	o := findOption(ic, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionChannel {
		return "", false
	}
	id, ok := o.Value.(string)
	return id, ok && id != ""
}

func subcommandName(ic *discordgo.InteractionCreate) string {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return ""
	}
	opts := ic.ApplicationCommandData().Options
	if len(opts) > 0 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return opts[0].Name
	}
	return ""
}

func displayName(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// splitQuery breaks a play query into candidate locators.
func splitQuery(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
}

// isCollection reports whether ref names a playlist, set or profile rather than a single song.
func isCollection(ref string) bool {
	lower := strings.ToLower(ref)
	switch {
	case strings.Contains(lower, "list="),
		strings.Contains(lower, "/playlist"),
		strings.Contains(lower, "/sets/"),
		strings.Contains(lower, "/@"):
		return true
	}
	return false
}
