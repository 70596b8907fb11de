package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/sys"
)

func init() {
	minVolume := 0
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice channel controls",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "summon",
				Description: "Join your voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "dismiss",
				Description: "Pause and leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rejoin",
				Description: "Leave and join the channel again",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback, keeping the position",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current item",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show what is playing and what is next",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Show or set your personal volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "percent",
						Description: "New volume in percent",
						MinValue:    &minVolume,
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
		case "summon":
			handleVoiceSummon(event)
		case "dismiss":
			handleVoiceDismiss(event)
		case "rejoin":
			handleVoiceRejoin(event)
		case "pause":
			handleVoicePause(event)
		case "resume":
			handleVoiceResume(event)
		case "skip":
			handleVoiceSkip(event)
		case "stop":
			handleVoiceStop(event)
		case "queue":
			handleVoiceQueue(event)
		case "volume":
			handleVoiceVolume(event, data)
		}
	})
}
