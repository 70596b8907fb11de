package home

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

const messageLimit = 1900

func handleSoundList(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if _, ok := guard(event, proc.CapList); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sounds, err := app.Store.ListSounds(ctx)
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}

	filter := strings.ToLower(data.String("filter"))
	var (
		b     strings.Builder
		shown int
		total int
	)
	for _, snd := range sounds {
		if filter != "" && !strings.Contains(strings.ToLower(snd.Filename), filter) {
			continue
		}
		total++
		line := fmt.Sprintf("`%s` %s\n", snd.Filename, formatDuration(snd.Duration))
		if b.Len()+len(line) > messageLimit {
			continue
		}
		b.WriteString(line)
		shown++
	}
	if total == 0 {
		reply(event, sys.ErrSoundNotFound)
		return
	}
	if shown < total {
		fmt.Fprintf(&b, "... %d of %d shown", shown, total)
	}
	reply(event, b.String())
}

// ownedSound resolves name and checks the own/any capability pair.
func ownedSound(event *events.ApplicationCommandInteractionCreate, actor proc.Actor, name string, own, anyOwner proc.Capability) (*sys.Sound, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m, err := app.Store.FindSound(ctx, name)
	switch {
	case err != nil:
		reply(event, sys.ErrStorage)
		return nil, false
	case m.Count == 0:
		reply(event, sys.ErrSoundNotFound)
		return nil, false
	case m.Count > 1 && !strings.EqualFold(m.Match.Filename, name):
		reply(event, sys.ErrSoundAmbiguous)
		return nil, false
	}

	if app.Access.Allowed(actor, anyOwner) {
		return m.Match, true
	}
	if m.Match.OwnerID == actor.ID && app.Access.Allowed(actor, own) {
		return m.Match, true
	}
	reply(event, sys.ErrNoPermission)
	return nil, false
}

func handleSoundRename(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	actor, ok := guard(event)
	if !ok {
		return
	}
	snd, ok := ownedSound(event, actor, data.String("name"), proc.CapRenameOwn, proc.CapRenameAny)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	to, err := app.Library.Rename(ctx, snd.Filename, data.String("to"))
	switch {
	case errors.Is(err, sys.ErrSoundExists):
		reply(event, "A sound with that name already exists.")
	case errors.Is(err, sql.ErrNoRows):
		reply(event, sys.ErrSoundNotFound)
	case err != nil:
		sys.LogLibrary(sys.MsgGenericError, err)
		reply(event, sys.ErrStorage)
	default:
		replyPublic(event, fmt.Sprintf(sys.MsgRenamed, snd.Filename, to))
	}
}

func handleSoundDelete(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	actor, ok := guard(event)
	if !ok {
		return
	}
	snd, ok := ownedSound(event, actor, data.String("name"), proc.CapDeleteOwn, proc.CapDeleteAny)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Library.Delete(ctx, snd.Filename); err != nil {
		sys.LogLibrary(sys.MsgGenericError, err)
		reply(event, sys.ErrStorage)
		return
	}
	replyPublic(event, fmt.Sprintf(sys.MsgDeleted, snd.Filename))
}

func handleSoundStats(event *events.ApplicationCommandInteractionCreate) {
	if _, ok := guard(event); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sounds, recordings, streams, uploads, err := app.Store.UserStats(ctx, event.User().ID)
	if err != nil {
		reply(event, sys.ErrStorage)
		return
	}
	reply(event, fmt.Sprintf("Sounds played: **%d**\nRecordings played: **%d**\nStreams played: **%d**\nUploads: **%d**",
		sounds, recordings, streams, uploads))
}
