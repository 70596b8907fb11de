package home

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

func recUsers(data discord.SlashCommandInteractionData, names ...string) []snowflake.ID {
	var users []snowflake.ID
	for _, name := range names {
		if u, ok := data.OptUser(name); ok {
			users = append(users, u.ID)
		}
	}
	return users
}

// recMode builds the search mode for kind. length overrides the configured
// default when positive.
func recMode(kind sys.SearchKind, length time.Duration) sys.SearchMode {
	cfg := app.Config
	if kind == sys.SearchPhrase {
		if length <= 0 {
			length = cfg.PhraseDuration
		}
		return sys.SearchMode{Kind: sys.SearchPhrase, Duration: length, AllowedGap: cfg.PhraseGap}
	}
	if length <= 0 {
		length = cfg.SequenceDuration
	}
	return sys.SearchMode{Kind: sys.SearchSequence, Duration: length, GapToStop: cfg.TalkSessionGap}
}

// chunkMode splits a long sequence into chunks. It returns the chunk count,
// zero when the span fits in one.
func chunkMode(mode *sys.SearchMode, chunk time.Duration) int {
	if mode.Kind != sys.SearchSequence || chunk <= 0 || mode.Duration <= chunk {
		return 0
	}
	total := int((mode.Duration + chunk - 1) / chunk)
	mode.Duration = chunk
	return total
}

// recordingLimit applies the presence rules: an actor who may only replay
// what they heard gets the search capped at the time they left.
func recordingLimit(ctx context.Context, actor proc.Actor, at time.Time, mode *sys.SearchMode) (bool, error) {
	if app.Access.Allowed(actor, proc.CapPlayAnyRecording) {
		return true, nil
	}
	if !app.Access.Allowed(actor, proc.CapPlayPresenceRecordings) {
		return false, nil
	}
	p, err := app.Store.UserPresence(ctx, actor.ID, at)
	if err != nil || !p.Present {
		return false, err
	}
	if !p.Left.IsZero() {
		mode.EndLimit = p.Left
	}
	return true, nil
}

func handleRecPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	flags, extra, err := flagsFrom(data)
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	actor, ok := guard(event, extra...)
	if !ok {
		return
	}

	now := time.Now()
	at, err := recParser.ParseDate(data.String("when"), now)
	if err != nil || at == nil || at.After(now) {
		reply(event, sys.ErrInvalidTime)
		return
	}
	length, err := ParseOffset(data.String("length"))
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	kind := sys.SearchSequence
	if s, ok := data.OptString("mode"); ok {
		kind = sys.SearchKind(s)
	}
	mode := recMode(kind, length)

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()

	allowed, err := recordingLimit(ctx, actor, *at, &mode)
	switch {
	case err != nil:
		update(event, sys.ErrStorage)
		return
	case !allowed:
		update(event, sys.ErrNoPermission)
		return
	}
	total := chunkMode(&mode, app.Config.RecordingChunkDuration)

	users := recUsers(data, "user", "other")
	search, err := app.Store.MakeRecordingFileList(ctx, at.Add(-time.Millisecond), mode, app.Config.SearchWindow, users)
	switch {
	case err != nil:
		update(event, sys.ErrStorage)
		return
	case search == nil || len(search.Inputs) == 0:
		update(event, sys.ErrRecordingNotFound)
		return
	}

	item := proc.NewRecordingItem(requesterOf(event), flags, search, mode, users)
	if total > 1 {
		item.ChunkIndex = 1
		item.TotalChunks = total
	}
	playRecording(ctx, event, item, data)
}

func handleRecQuote(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	flags, extra, err := flagsFrom(data)
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	if _, ok := guard(event, append([]proc.Capability{proc.CapPlayRandomQuote}, extra...)...); !ok {
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()

	users := recUsers(data, "user")
	mode := recMode(sys.SearchPhrase, 0)
	search, err := app.Store.MakeRecordingFileList(ctx, time.Time{}, mode, app.Config.SearchWindow, users)
	switch {
	case err != nil:
		update(event, sys.ErrStorage)
		return
	case search == nil || len(search.Inputs) == 0:
		update(event, sys.ErrRecordingNotFound)
		return
	}
	playRecording(ctx, event, proc.NewRecordingItem(requesterOf(event), flags, search, mode, users), data)
}

func playRecording(ctx context.Context, event *events.ApplicationCommandInteractionCreate, item *proc.RecordingItem, data discord.SlashCommandInteractionData) {
	if item.Flags.Target == "" {
		if err := ensureConnected(ctx, event); err != nil {
			update(event, joinErrorText(err))
			return
		}
	}
	enqueueAndReport(event, item, enqueueMode(data))
}

func handleRecHide(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	actor, ok := guard(event, proc.CapHideOwnRecords)
	if !ok {
		return
	}
	hidden := data.Bool("hidden")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n, err := app.Store.SetRecordingsHidden(ctx, actor.ID, hidden)
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}
	state := "visible"
	if hidden {
		state = "hidden"
	}
	reply(event, fmt.Sprintf("%d of your recordings are now %s.", n, state))
}
