package home

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

const queueListLimit = 10

func handleVoiceQueue(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event, proc.CapList); !ok {
		return
	}
	snap, err := app.Scheduler.Snapshot()
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}
	reply(event, renderQueue(snap))
}

func renderQueue(snap proc.Snapshot) string {
	var b strings.Builder
	if cur := snap.State.Current; cur != nil {
		fmt.Fprintf(&b, "**%s** %s", snap.State.Phase, cur.Title())
		if l := cur.Length(); l > 0 {
			fmt.Fprintf(&b, " (%s / %s)", formatDuration(snap.State.Elapsed+cur.Base().PlayedOffset), formatDuration(l))
		}
		fmt.Fprintf(&b, " by %s\n", cur.Base().Requester.Name)
	} else if snap.State.Phase == proc.PhasePaused {
		b.WriteString("**paused**\n")
	}

	if len(snap.Pending) == 0 {
		if b.Len() == 0 {
			return sys.MsgQueueEmpty
		}
		return b.String()
	}
	for i, item := range snap.Pending {
		if i == queueListLimit {
			fmt.Fprintf(&b, "... and %d more\n", len(snap.Pending)-queueListLimit)
			break
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item.Title())
		if l := item.Length(); l > 0 {
			fmt.Fprintf(&b, " (%s)", formatDuration(l))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: %d items, %s", len(snap.Pending), formatDuration(snap.PendingDuration))
	return b.String()
}

func handleVoiceVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	actor, ok := guard(event)
	if !ok {
		return
	}
	req := requesterOf(event)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	old, err := app.Store.UserVolume(ctx, req.ID, app.Config.DefaultVolume)
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}
	percent, set := data.OptInt("percent")
	if !set {
		reply(event, fmt.Sprintf("Your volume is **%d%%**.", old))
		return
	}
	if percent > 100 && !app.Access.Allowed(actor, proc.CapVolumeAboveMax) {
		reply(event, sys.ErrNoPermission)
		return
	}
	if err := app.Store.SetUserVolume(ctx, req.ID, percent); err != nil {
		reply(event, sys.ErrStorage)
		return
	}

	if snap, err := app.Scheduler.Snapshot(); err == nil {
		if cur := snap.State.Current; cur != nil && cur.Base().Requester.ID == req.ID && cur.Base().Flags.Volume == nil {
			_, _, _ = app.Scheduler.SetVolume(percent)
		}
	}
	replyPublic(event, fmt.Sprintf(sys.MsgVolumeSet, percent, old))
}
