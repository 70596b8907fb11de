package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

func handleVoicePause(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapPlaybackControl); !ok {
		return
	}
	paused, err := app.Scheduler.Pause()
	switch {
	case err != nil:
		reply(event, sys.ErrStorage)
	case !paused:
		reply(event, sys.MsgNothingPlaying)
	default:
		replyPublic(event, sys.MsgPaused)
	}
}

func handleVoiceResume(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapPlaybackControl); !ok {
		return
	}
	resumed, err := app.Scheduler.Resume()
	switch {
	case err != nil:
		reply(event, sys.ErrStorage)
	case !resumed:
		reply(event, sys.MsgQueueEmpty)
	default:
		replyPublic(event, sys.MsgResumed)
	}
}

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapPlaybackControl); !ok {
		return
	}
	skipped, err := app.Scheduler.Skip()
	switch {
	case err != nil:
		reply(event, sys.ErrStorage)
	case !skipped:
		reply(event, sys.MsgNothingPlaying)
	default:
		replyPublic(event, sys.MsgSkipped)
	}
}

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapStop); !ok {
		return
	}
	n, d, err := app.Scheduler.Stop()
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}
	replyPublic(event, fmt.Sprintf(sys.MsgStopped, n, formatDuration(d)))
}
