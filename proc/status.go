package proc

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/voxbox/sys"
)

const configKeyStatus = "status_visible"

// StatusRotator rotates the bot presence between short session summaries.
type StatusRotator struct {
	client    *bot.Client
	scheduler *Scheduler
	kv        sys.KeyValueStore
	startTime time.Time
	last      string
}

func NewStatusRotator(client *bot.Client, s *Scheduler, kv sys.KeyValueStore) *StatusRotator {
	return &StatusRotator{client: client, scheduler: s, kv: kv, startTime: time.Now()}
}

func rotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

// Run updates the presence until ctx is done.
func (r *StatusRotator) Run(ctx context.Context) {
	for {
		r.update(ctx)
		select {
		case <-time.After(rotationInterval()):
		case <-ctx.Done():
			return
		}
	}
}

func (r *StatusRotator) update(ctx context.Context) {
	if visible, err := r.kv.BotConfig(ctx, configKeyStatus); err == nil && visible == "false" {
		_ = r.client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	choices := r.candidates()
	// Playback always wins; otherwise avoid showing the same line twice.
	pick := choices[0]
	if len(choices) > 1 && pick == r.last {
		pick = choices[1+rand.Intn(len(choices)-1)]
	}
	r.last = pick

	if err := r.client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(pick),
	); err != nil {
		sys.LogWarn(sys.MsgGenericError, err)
	}
}

func (r *StatusRotator) candidates() []string {
	var out []string
	if snap, err := r.scheduler.Snapshot(); err == nil {
		if cur := snap.State.Current; cur != nil && snap.State.Phase == PhasePlaying {
			out = append(out, cur.Title())
		}
		if n := len(snap.Pending); n > 0 {
			out = append(out, fmt.Sprintf("Queue: %d (%s)", n, snap.PendingDuration.Round(time.Second)))
		}
	}
	uptime := time.Since(r.startTime)
	out = append(out, fmt.Sprintf("Uptime: %dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60))
	if ping := r.client.Gateway.Latency(); ping > 0 {
		out = append(out, fmt.Sprintf("Ping: %dms", ping.Milliseconds()))
	}
	return out
}
