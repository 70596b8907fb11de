package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "sound",
		Description: "Manage the sound library",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List sounds",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "filter",
						Description: "Only names containing this",
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rename",
				Description: "Rename a sound",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Current name",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "to",
						Description: "New name",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete",
				Description: "Delete a sound",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Sound to delete",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "upload",
				Description: "Add an audio file to the library",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionAttachment{
						Name:        "file",
						Description: "Audio file",
						Required:    true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "name",
						Description: "Name to save it under (defaults to the file name)",
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show your playback statistics",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "list":
			handleSoundList(event, data)
		case "rename":
			handleSoundRename(event, data)
		case "delete":
			handleSoundDelete(event, data)
		case "upload":
			handleSoundUpload(event, data)
		case "stats":
			handleSoundStats(event)
		}
	})

	sys.RegisterAutocompleteHandler("sound", func(event *events.AutocompleteInteractionCreate) {
		_ = event.AutocompleteResult(soundChoices(event.Data.Focused().String()))
	})
}
