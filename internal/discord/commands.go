package discord

import "github.com/bwmarrin/discordgo"

var (
	minVolume   = 0.0
	minPosition = 1.0
	minCount    = 1.0
)

var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Queue one or more songs, or a playlist",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "query",
			Description: "Song or playlist URLs separated by spaces",
			Required:    true,
		}},
	},
	{
		Name:        "join",
		Description: "Join your voice channel, or the one given",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  "Voice channel to join",
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice},
		}},
	},
	{
		Name:        "skip",
		Description: "Skip the current song",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "filler",
			Description: "Only skip autofill: the current filler song and any queued filler",
		}},
	},
	{Name: "stop", Description: "Stop playback and clear the queue"},
	{Name: "queue", Description: "Show the queue with start estimates"},
	{Name: "queue_clear", Description: "Remove every queued song; the current one keeps playing"},
	{Name: "nowplaying", Description: "Show the current song"},
	{Name: "shuffle", Description: "Shuffle the queue"},
	{
		Name:        "remove",
		Description: "Remove a song from the queue",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "position",
			Description: "Queue position, starting at 1",
			Required:    true,
			MinValue:    &minPosition,
		}},
	},
	{
		Name:        "move",
		Description: "Move a queued song to another position",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "from", Description: "Current position", Required: true, MinValue: &minPosition},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "to", Description: "New position", Required: true, MinValue: &minPosition},
		},
	},
	{
		Name:        "volume",
		Description: "Set the volume (100 = default)",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "level",
			Description: "0 to 200",
			Required:    true,
			MinValue:    &minVolume,
			MaxValue:    200,
		}},
	},
	{Name: "like", Description: "Like the current song; autofill favours liked songs"},
	{
		Name:        "history",
		Description: "Recently played songs",
		Options: []*discordgo.ApplicationCommandOption{{
			Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "How many (max 25)", MinValue: &minCount, MaxValue: 25,
		}},
	},
	{
		Name:        "history_clear",
		Description: "Clear play history (admins)",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "scope",
			Description: "This server (default) or every server",
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: "guild", Value: "guild"},
				{Name: "all", Value: "all"},
			},
		}},
	},
	{
		Name:        "top",
		Description: "Most requested songs",
		Options: []*discordgo.ApplicationCommandOption{{
			Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "How many (max 25)", MinValue: &minCount, MaxValue: 25,
		}},
	},
	{
		Name:        "autofill",
		Description: "Idle radio settings",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "on", Description: "Enable autofill (admins)"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "off", Description: "Disable autofill and drop queued filler (admins)"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show autofill settings"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set the autofill source (admins)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "source", Description: "Profile or playlist URL, or CSV path", Required: true},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "kind",
						Description: "Source kind (default url)",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "url", Value: "url"},
							{Name: "csv", Value: "csv"},
						},
					},
				},
			},
		},
	},
	{
		Name:        "queuelimit",
		Description: "Queue limit settings",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "on", Description: "Enable the queue limit (admins)"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "off", Description: "Disable the queue limit (admins)"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show the queue limit"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set the limits (admins)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "max_per_add", Description: "Songs per add", Required: true, MinValue: &minCount},
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "max_per_user", Description: "Songs per user in the queue", MinValue: &minCount},
				},
			},
		},
	},
	{Name: "leave", Description: "Leave the voice channel"},
	{Name: "reload", Description: "Restart the current song and drop filler (admins)"},
	{Name: "reset_state", Description: "Clear the queue and restore default autofill settings (admins)"},
}
