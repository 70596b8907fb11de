package home

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/voxbox/sys"
)

const (
	ansiReset = "\u001b[0m"
	ansiPink  = "\u001b[35m"
)

func healthKey(text string) string {
	return fmt.Sprintf("%s> %s:%s", ansiPink, text, ansiReset)
}

func handleAdminStatus(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	visible := data.Bool("visible")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	value := "false"
	if visible {
		value = "true"
	}
	if err := app.Store.SetBotConfig(ctx, "status_visible", value); err != nil {
		reply(event, sys.ErrStorage)
		return
	}

	if visible {
		reply(event, "Status rotation enabled.")
	} else {
		reply(event, "Status rotation disabled.")
	}
}

// healthReport is what the health subcommand renders.
type healthReport struct {
	Gateway     time.Duration
	Database    time.Duration
	DatabaseErr error
	Phase       string
	Current     string
	Queue       int
	Processes   int
	Goroutines  int
	HeapMB      float64
	Uptime      time.Duration
}

func renderHealth(h healthReport) string {
	lines := []string{
		fmt.Sprintf("%s %dms", healthKey("Gateway"), h.Gateway.Milliseconds()),
	}
	if h.DatabaseErr != nil {
		lines = append(lines, fmt.Sprintf("%s %v", healthKey("Database"), h.DatabaseErr))
	} else {
		lines = append(lines, fmt.Sprintf("%s %dms", healthKey("Database"), h.Database.Milliseconds()))
	}
	lines = append(lines, fmt.Sprintf("%s %s", healthKey("Session"), h.Phase))
	if h.Current != "" {
		lines = append(lines, fmt.Sprintf("%s %s", healthKey("Playing"), h.Current))
	}
	lines = append(lines,
		fmt.Sprintf("%s %d", healthKey("Queue"), h.Queue),
		fmt.Sprintf("%s %d", healthKey("Transcoders"), h.Processes),
		fmt.Sprintf("%s %d", healthKey("Goroutines"), h.Goroutines),
		fmt.Sprintf("%s %.1f MB", healthKey("Heap"), h.HeapMB),
		fmt.Sprintf("%s %s", healthKey("Uptime"), formatDuration(h.Uptime)),
	)
	return "```ansi\n" + strings.Join(lines, "\n") + "\n```"
}

func handleAdminHealth(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h := healthReport{
		Gateway:    event.Client().Gateway.Latency(),
		Phase:      "closed",
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(mem.HeapAlloc) / 1024 / 1024,
		Uptime:     time.Since(sys.StartupTime),
	}
	h.Database, h.DatabaseErr = app.Store.Ping(ctx)
	if app.Registry != nil {
		h.Processes = app.Registry.Len()
	}
	if snap, err := app.Scheduler.Snapshot(); err == nil {
		h.Phase = snap.State.Phase.String()
		h.Queue = len(snap.Pending)
		if snap.State.Current != nil {
			h.Current = snap.State.Current.Title()
		}
	}

	if err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(
			discord.NewContainer(
				discord.NewTextDisplay(renderHealth(h)),
			),
		).
		Build()); err != nil {
		sys.LogDebug(sys.MsgGenericError, err)
	}
}
