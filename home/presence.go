package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

func init() {
	sys.RegisterVoiceStateUpdateHandler(onVoiceStateUpdate)
}

func channelOf(id *snowflake.ID) snowflake.ID {
	if id == nil {
		return 0
	}
	return *id
}

// onVoiceStateUpdate records join and leave intervals for the channel the
// bot sits in, and drops the connection when the bot is disconnected from
// outside.
func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if app == nil {
		return
	}
	conn := app.Joins.Current()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	vs := event.VoiceState
	if vs.UserID == event.Client().ID() {
		if vs.ChannelID == nil {
			sys.LogVoice(sys.MsgVoiceLeaving, conn.ChannelID())
			if err := app.Joins.Leave(ctx); err != nil {
				sys.LogVoice(sys.MsgGenericError, err)
			}
		}
		return
	}

	watched := conn.ChannelID()
	before := channelOf(event.OldVoiceState.ChannelID)
	after := channelOf(vs.ChannelID)
	if before == after {
		return
	}

	now := time.Now()
	switch watched {
	case after:
		err := app.Store.RecordPresence(ctx, vs.UserID, after, true, now)
		if err != nil {
			sys.LogDatabase(sys.MsgPresenceRecordFail, vs.UserID, err)
		}
	case before:
		err := app.Store.RecordPresence(ctx, vs.UserID, before, false, now)
		if err != nil {
			sys.LogDatabase(sys.MsgPresenceRecordFail, vs.UserID, err)
		}
	}
}
