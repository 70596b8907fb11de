package home

import (
	"context"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

func handlePlaySound(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	flags, extra, err := flagsFrom(data)
	if err != nil {
		reply(event, sys.ErrInvalidTime)
		return
	}
	if _, ok := guard(event, append([]proc.Capability{proc.CapPlayFile}, extra...)...); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.JoinTimeout+app.Config.JoinCooldown)
	defer cancel()

	m, err := app.Store.FindSound(ctx, data.String("name"))
	switch {
	case err != nil:
		reply(event, sys.ErrStorage)
		return
	case m.Count == 0:
		reply(event, sys.ErrSoundNotFound)
		return
	}

	_ = event.DeferCreateMessage(false)
	if flags.Target == "" {
		if err := ensureConnected(ctx, event); err != nil {
			update(event, joinErrorText(err))
			return
		}
	}
	item := proc.NewFileItem(requesterOf(event), flags, m.Match.Filename, m.Match.Duration)
	enqueueAndReport(event, item, enqueueMode(data))
}

func handlePlayAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	query := focused.String()

	var choices []discord.AutocompleteChoice
	switch focused.Name {
	case "name":
		choices = soundChoices(query)
	case "query":
		if query == "" {
			break
		}
		for _, r := range proc.Search(context.Background(), query, 25) {
			val := r.URL
			if len(val) > 100 {
				continue
			}
			choices = append(choices, discord.AutocompleteChoiceString{
				Name:  truncate(r.Title, 100),
				Value: val,
			})
		}
	}
	_ = event.AutocompleteResult(choices)
}

// soundChoices lists library sounds containing query.
func soundChoices(query string) []discord.AutocompleteChoice {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sounds, err := app.Store.ListSounds(ctx)
	if err != nil {
		return nil
	}
	q := strings.ToLower(query)
	var choices []discord.AutocompleteChoice
	for _, snd := range sounds {
		if q != "" && !strings.Contains(strings.ToLower(snd.Filename), q) {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  truncate(snd.Filename, 100),
			Value: truncate(snd.Filename, 100),
		})
		if len(choices) == 25 {
			break
		}
	}
	return choices
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
