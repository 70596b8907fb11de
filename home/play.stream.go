package home

import (
	"context"
	"errors"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

func handlePlayStream(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	flags, extra, err := flagsFrom(data)
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	if _, ok := guard(event, append([]proc.Capability{proc.CapPlayStream}, extra...)...); !ok {
		return
	}
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()
	if flags.Target == "" {
		if err := ensureConnected(ctx, event); err != nil {
			update(event, joinErrorText(err))
			return
		}
	}
	item := proc.NewStreamItem(requesterOf(event), flags, data.String("query"))
	enqueueAndReport(event, item, enqueueMode(data))
}

func handlePlayRepeat(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	flags, extra, err := flagsFrom(data)
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	if _, ok := guard(event, append([]proc.Capability{proc.CapRepeat}, extra...)...); !ok {
		return
	}
	back := 1
	if n, ok := data.OptInt("back"); ok {
		back = n
	}
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()
	if flags.Target == "" {
		if err := ensureConnected(ctx, event); err != nil {
			update(event, joinErrorText(err))
			return
		}
	}

	item, err := app.Scheduler.Repeat(back, requesterOf(event), flags)
	switch {
	case errors.Is(err, proc.ErrHistoryEmpty):
		update(event, sys.ErrNothingToRepeat)
	case err != nil:
		update(event, sys.ErrStorage)
	default:
		update(event, "Repeating **"+item.Title()+"**.")
	}
}
