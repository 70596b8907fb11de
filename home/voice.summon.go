package home

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

func handleVoiceSummon(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapSummon); !ok {
		return
	}
	channel, ok := userChannel(event.Client(), *event.GuildID(), event.User().ID)
	if !ok {
		reply(event, sys.ErrNotInVoice)
		return
	}
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()

	// Moving stops the pipeline; keep the position and pick it up after.
	var wasPlaying bool
	if cur := app.Joins.Current(); cur != nil && cur.ChannelID() != channel {
		wasPlaying, _ = app.Scheduler.Pause()
	}
	if _, err := app.Joins.Move(ctx, channel); err != nil {
		update(event, sys.ErrJoinFailed)
		return
	}
	if wasPlaying {
		_, _ = app.Scheduler.Resume()
	}
	update(event, fmt.Sprintf(sys.MsgSummoned, channel))
}

func handleVoiceDismiss(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapDismiss); !ok {
		return
	}
	if app.Joins.Current() == nil {
		reply(event, sys.MsgNothingPlaying)
		return
	}
	_ = event.DeferCreateMessage(false)

	_, _ = app.Scheduler.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout)
	defer cancel()
	if err := app.Joins.Leave(ctx); err != nil {
		sys.LogWarn(sys.MsgGenericError, err)
	}
	update(event, sys.MsgDismissed)
}

func handleVoiceRejoin(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapRejoin); !ok {
		return
	}
	channel, ok := userChannel(event.Client(), *event.GuildID(), event.User().ID)
	if cur := app.Joins.Current(); cur != nil {
		channel, ok = cur.ChannelID(), true
	}
	if !ok {
		reply(event, sys.ErrNotInVoice)
		return
	}
	_ = event.DeferCreateMessage(false)

	wasPlaying, _ := app.Scheduler.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()
	if _, err := app.Joins.Rejoin(ctx, channel); err != nil {
		update(event, sys.ErrJoinFailed)
		return
	}
	if wasPlaying {
		_, _ = app.Scheduler.Resume()
	}
	update(event, fmt.Sprintf(sys.MsgRejoined, channel))
}
