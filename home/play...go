package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/sys"
)

func init() {
	minRepeat := 1
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "play",
		Description: "Play audio in your voice channel",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "sound",
				Description: "Play a sound from the library",
				Options: withPlaybackOptions(
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Sound name or part of it",
						Required:     true,
						Autocomplete: true,
					},
				),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stream",
				Description: "Play audio from a URL or a search",
				Options: withPlaybackOptions(
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
				),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "repeat",
				Description: "Play a recent item again",
				Options: withPlaybackOptions(
					discord.ApplicationCommandOptionInt{
						Name:        "back",
						Description: "How far back in history (1 is the last item)",
						MinValue:    &minRepeat,
					},
				),
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "sound":
			handlePlaySound(event, data)
		case "stream":
			handlePlayStream(event, data)
		case "repeat":
			handlePlayRepeat(event, data)
		}
	})

	sys.RegisterAutocompleteHandler("play", handlePlayAutocomplete)
}
