package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/sys"
	"github.com/sho0pi/naturaltime"
)

var recParser *naturaltime.Parser

func initRecParser() {
	var err error
	recParser, err = naturaltime.New()
	if err != nil {
		sys.LogFatal(sys.MsgRecNaturalTimeInitFail, err)
	}
}

func init() {
	initRecParser()

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "rec",
		Description: "Play back recorded voice",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play what was said at a given time",
				Options: withPlaybackOptions(
					discord.ApplicationCommandOptionString{
						Name:        "when",
						Description: "When it was said (e.g. 'yesterday at 9pm', '2 hours ago')",
						Required:    true,
					},
					discord.ApplicationCommandOptionUser{
						Name:        "user",
						Description: "Only this speaker",
					},
					discord.ApplicationCommandOptionUser{
						Name:        "other",
						Description: "And this speaker",
					},
					discord.ApplicationCommandOptionString{
						Name:        "mode",
						Description: "How to gather the recordings",
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Conversation", Value: string(sys.SearchSequence)},
							{Name: "Single phrase", Value: string(sys.SearchPhrase)},
						},
					},
					discord.ApplicationCommandOptionString{
						Name:        "length",
						Description: "How much to play (e.g. 5m)",
					},
				),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "quote",
				Description: "Play a random phrase",
				Options: withPlaybackOptions(
					discord.ApplicationCommandOptionUser{
						Name:        "user",
						Description: "Only this speaker",
					},
				),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "hide",
				Description: "Hide or reveal your own recordings",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "hidden",
						Description: "Whether your recordings are hidden",
						Required:    true,
					},
				},
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleRecPlay(event, data)
		case "quote":
			handleRecQuote(event, data)
		case "hide":
			handleRecHide(event, data)
		}
	})
}
