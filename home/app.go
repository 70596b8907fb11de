package home

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

// App carries the collaborators the command handlers need.
type App struct {
	Config    *sys.Config
	Store     *sys.Store
	Access    *proc.Evaluator
	Joins     *proc.JoinCoordinator
	Scheduler *proc.Scheduler
	Builder   *proc.PipelineBuilder
	Exporter  proc.Exporter
	Library   *proc.Library
	Limiter   *Limiter
	Registry  *proc.ProcessRegistry
}

var app *App

// Bind makes a available to the handlers. It must be called before the
// client connects.
func Bind(a *App) {
	app = a
}

func actorOf(client *bot.Client, guildID *snowflake.ID, user discord.User, member *discord.ResolvedMember) proc.Actor {
	a := proc.Actor{ID: user.ID}
	if member == nil || guildID == nil {
		return a
	}
	a.RoleIDs = member.RoleIDs
	for _, id := range member.RoleIDs {
		if role, ok := client.Caches.Role(*guildID, id); ok {
			a.RoleNames = append(a.RoleNames, role.Name)
		}
	}
	return a
}

// guard runs the shared checks of every command: guild only, rate limit and
// capability. It replies and returns false when one fails.
func guard(event *events.ApplicationCommandInteractionCreate, caps ...proc.Capability) (proc.Actor, bool) {
	if event.GuildID() == nil {
		reply(event, sys.ErrServerOnly)
		return proc.Actor{}, false
	}
	user := event.User()
	if app.Limiter != nil && !app.Limiter.Allow(user.ID) {
		sys.LogWarn(sys.MsgLoaderRateLimitedCommand, event.Data.CommandName(), user.Username)
		reply(event, sys.ErrRateLimited)
		return proc.Actor{}, false
	}
	actor := actorOf(event.Client(), event.GuildID(), user, event.Member())
	for _, c := range caps {
		if !app.Access.Allowed(actor, c) {
			reply(event, sys.ErrNoPermission)
			return actor, false
		}
	}
	return actor, true
}

func requesterOf(event *events.ApplicationCommandInteractionCreate) proc.Requester {
	user := event.User()
	name := user.Username
	if user.GlobalName != nil {
		name = *user.GlobalName
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Store.EnsureUser(ctx, user.ID, name, app.Config.DefaultVolume); err != nil {
		sys.LogDatabase(sys.MsgGenericError, err)
	}
	return proc.Requester{ID: user.ID, Name: name}
}

// userChannel returns the voice channel the user is in.
func userChannel(client *bot.Client, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// ensureConnected joins the caller's channel unless a connection exists.
func ensureConnected(ctx context.Context, event *events.ApplicationCommandInteractionCreate) error {
	if app.Joins.Current() != nil {
		return nil
	}
	channel, ok := userChannel(event.Client(), *event.GuildID(), event.User().ID)
	if !ok {
		return errNotInVoice
	}
	_, err := app.Joins.Connect(ctx, channel)
	return err
}

var errNotInVoice = errors.New("not in voice")

func joinErrorText(err error) string {
	if errors.Is(err, errNotInVoice) {
		return sys.ErrNotInVoice
	}
	return sys.ErrJoinFailed
}

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(true).
		Build()); err != nil {
		sys.LogDebug(sys.MsgGenericError, err)
	}
}

func replyPublic(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		Build()); err != nil {
		sys.LogDebug(sys.MsgGenericError, err)
	}
}

// update edits a deferred response.
func update(event *events.ApplicationCommandInteractionCreate, content string) {
	if _, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		Build()); err != nil {
		sys.LogDebug(sys.MsgGenericError, err)
	}
}

// playbackOptions are the options shared by every command that plays audio.
var playbackOptions = []discord.ApplicationCommandOption{
	discord.ApplicationCommandOptionBool{
		Name:        "now",
		Description: "Interrupt what is playing",
	},
	discord.ApplicationCommandOptionString{
		Name:        "effects",
		Description: "Comma separated effects (echo, bass, fast, slow, high, low, reverse...)",
	},
	discord.ApplicationCommandOptionString{
		Name:        "start",
		Description: "Start offset (e.g. 1m30s or 90)",
	},
	discord.ApplicationCommandOptionString{
		Name:        "end",
		Description: "End offset",
	},
	discord.ApplicationCommandOptionString{
		Name:        "duration",
		Description: "Play at most this long",
	},
	discord.ApplicationCommandOptionInt{
		Name:        "volume",
		Description: "Volume override in percent",
	},
	discord.ApplicationCommandOptionString{
		Name:        "save",
		Description: "Save the result as a new sound with this name instead of playing it",
	},
}

func withPlaybackOptions(opts ...discord.ApplicationCommandOption) []discord.ApplicationCommandOption {
	return append(opts, playbackOptions...)
}

// flagsFrom reads the playback options. It reports the capability an option
// needs beyond the command's own, if any.
func flagsFrom(data discord.SlashCommandInteractionData) (proc.Flags, []proc.Capability, error) {
	var (
		f    proc.Flags
		need []proc.Capability
		err  error
	)
	if s, ok := data.OptString("effects"); ok {
		for _, e := range strings.Split(s, ",") {
			if e = strings.TrimSpace(e); e != "" {
				f.Effects = append(f.Effects, e)
			}
		}
	}
	for name, dst := range map[string]*time.Duration{"start": &f.Start, "end": &f.End, "duration": &f.Duration} {
		if s, ok := data.OptString(name); ok {
			if *dst, err = ParseOffset(s); err != nil {
				return f, nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	if v, ok := data.OptInt("volume"); ok {
		if v > 100 {
			need = append(need, proc.CapVolumeAboveMax)
		}
		f.Volume = &v
	}
	if s, ok := data.OptString("save"); ok && s != "" {
		f.Target = s
		need = append(need, proc.CapUpload)
	}
	return f, need, nil
}

// ParseOffset accepts Go durations ("1m30s") and plain or clock-style
// seconds ("90", "1:30", "1:02:03.5").
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var total float64
	for _, part := range strings.Split(s, ":") {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		total = total*60 + v
	}
	return time.Duration(total * float64(time.Second)), nil
}

func enqueueMode(data discord.SlashCommandInteractionData) proc.EnqueueMode {
	if now, ok := data.OptBool("now"); ok && now {
		return proc.EnqueueNow
	}
	return proc.EnqueueAppend
}

// enqueueAndReport hands item to the scheduler and edits the deferred
// response accordingly.
func enqueueAndReport(event *events.ApplicationCommandInteractionCreate, item proc.PlaybackItem, mode proc.EnqueueMode) {
	pos, err := app.Scheduler.Enqueue(item, mode)
	if err != nil {
		update(event, fmt.Sprintf(sys.MsgStreamFailedNotice, item.Title(), err))
		return
	}
	if mode == proc.EnqueueNow || pos == 0 {
		update(event, fmt.Sprintf(sys.MsgPlayingNow, item.Title()))
		return
	}
	update(event, fmt.Sprintf(sys.MsgQueued, item.Title(), pos))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
