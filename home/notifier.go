package home

import (
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

// ChannelNotifier posts user notices to the report channel. Without a
// channel the notice is only logged.
type ChannelNotifier struct {
	client  *bot.Client
	channel snowflake.ID
}

func NewChannelNotifier(client *bot.Client, channel snowflake.ID) *ChannelNotifier {
	return &ChannelNotifier{client: client, channel: channel}
}

// Notify never blocks the caller.
func (n *ChannelNotifier) Notify(userID snowflake.ID, text string) {
	if n.channel == 0 || n.client == nil {
		sys.LogInfo("%s: %s", userID, text)
		return
	}
	sys.SafeGo(func() {
		_, err := n.client.Rest.CreateMessage(n.channel, discord.NewMessageCreateBuilder().
			SetContent(fmt.Sprintf("<@%s> %s", userID, text)).
			SetAllowedMentions(&discord.AllowedMentions{Users: []snowflake.ID{userID}}).
			Build())
		if err != nil {
			sys.LogWarn(sys.MsgNotifyFail, userID, err)
		}
	})
}
