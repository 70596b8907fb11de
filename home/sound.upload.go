package home

import (
	"path/filepath"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

// handleSoundUpload transcodes an attachment straight into the library.
func handleSoundUpload(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if _, ok := guard(event, proc.CapUpload); !ok {
		return
	}
	att := data.Attachment("file")
	if att.ContentType != nil && !strings.HasPrefix(*att.ContentType, "audio/") && !strings.HasPrefix(*att.ContentType, "video/") {
		reply(event, "That doesn't look like an audio file.")
		return
	}

	name := data.String("name")
	if name == "" {
		name = strings.TrimSuffix(att.Filename, filepath.Ext(att.Filename))
	}
	spec, err := app.Builder.Build(
		[]proc.Input{{Path: att.URL, Remote: true}},
		proc.MixConcat, proc.Flags{Target: name}, 0,
	)
	if err != nil {
		reply(event, err.Error())
		return
	}

	app.Exporter.Export(spec, requesterOf(event), att.Filename)
	sys.LogQueue(sys.MsgQueueExportStarted, att.Filename, spec.Sink.FinalName)
	reply(event, "Processing **"+spec.Sink.FinalName+"**...")
}
