package home

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOffset(t *testing.T) {
	cases := map[string]time.Duration{
		"":          0,
		"  ":        0,
		"1m30s":     90 * time.Second,
		"90":        90 * time.Second,
		"1:30":      90 * time.Second,
		"1:02:03.5": time.Hour + 2*time.Minute + 3500*time.Millisecond,
		"2.5":       2500 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := ParseOffset(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"abc", "1:xx", "-5", "1:-2"} {
		_, err := ParseOffset(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "0:59", formatDuration(59*time.Second))
	assert.Equal(t, "1:30", formatDuration(89600*time.Millisecond))
	assert.Equal(t, "2:03:04", formatDuration(2*time.Hour+3*time.Minute+4*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}

func TestChunkMode(t *testing.T) {
	mode := sys.SearchMode{Kind: sys.SearchSequence, Duration: 7 * time.Minute}
	assert.Equal(t, 3, chunkMode(&mode, 3*time.Minute))
	assert.Equal(t, 3*time.Minute, mode.Duration)

	short := sys.SearchMode{Kind: sys.SearchSequence, Duration: time.Minute}
	assert.Zero(t, chunkMode(&short, 3*time.Minute))
	assert.Equal(t, time.Minute, short.Duration)

	phrase := sys.SearchMode{Kind: sys.SearchPhrase, Duration: time.Hour}
	assert.Zero(t, chunkMode(&phrase, time.Minute))
}

func TestRecMode(t *testing.T) {
	prev := app
	t.Cleanup(func() { app = prev })
	app = &App{Config: &sys.Config{
		PhraseDuration:   4 * time.Second,
		PhraseGap:        700 * time.Millisecond,
		SequenceDuration: time.Minute,
		TalkSessionGap:   15 * time.Minute,
	}}

	phrase := recMode(sys.SearchPhrase, 0)
	assert.Equal(t, sys.SearchMode{Kind: sys.SearchPhrase, Duration: 4 * time.Second, AllowedGap: 700 * time.Millisecond}, phrase)

	seq := recMode(sys.SearchSequence, 5*time.Minute)
	assert.Equal(t, 5*time.Minute, seq.Duration)
	assert.Equal(t, 15*time.Minute, seq.GapToStop)
}

func TestRenderHealth(t *testing.T) {
	out := renderHealth(healthReport{
		Gateway:    42 * time.Millisecond,
		Database:   3 * time.Millisecond,
		Phase:      "playing",
		Current:    "song.mp3",
		Queue:      2,
		Processes:  1,
		Goroutines: 30,
		HeapMB:     12.34,
		Uptime:     90 * time.Second,
	})
	assert.True(t, strings.HasPrefix(out, "```ansi\n"))
	assert.Contains(t, out, healthKey("Gateway")+" 42ms")
	assert.Contains(t, out, healthKey("Playing")+" song.mp3")
	assert.Contains(t, out, healthKey("Heap")+" 12.3 MB")
	assert.Contains(t, out, healthKey("Uptime")+" 1:30")

	out = renderHealth(healthReport{DatabaseErr: errors.New("locked"), Phase: "idle"})
	assert.Contains(t, out, healthKey("Database")+" locked")
	assert.NotContains(t, out, "Playing")
}

func TestRenderQueue(t *testing.T) {
	assert.Equal(t, sys.MsgQueueEmpty, renderQueue(proc.Snapshot{}))

	req := proc.Requester{ID: 1, Name: "ann"}
	cur := proc.NewFileItem(req, proc.Flags{}, "now.mp3", 2*time.Minute)
	var pending []proc.PlaybackItem
	for i := 0; i < 12; i++ {
		pending = append(pending, proc.NewFileItem(req, proc.Flags{}, fmt.Sprintf("s%d.mp3", i), 10*time.Second))
	}
	out := renderQueue(proc.Snapshot{
		State:           proc.SessionState{Phase: proc.PhasePlaying, Current: cur, Elapsed: 30 * time.Second},
		Pending:         pending,
		PendingDuration: 2 * time.Minute,
	})
	assert.Contains(t, out, "**playing** now.mp3 (0:30 / 2:00) by ann")
	assert.Contains(t, out, "1. s0.mp3 (0:10)")
	assert.NotContains(t, out, "11. s10.mp3")
	assert.Contains(t, out, "... and 2 more")
	assert.Contains(t, out, "Total: 12 items, 2:00")

	paused := renderQueue(proc.Snapshot{State: proc.SessionState{Phase: proc.PhasePaused}})
	assert.Equal(t, "**paused**\n", paused)
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(0.001, 2)
	assert.True(t, l.Allow(1))
	assert.True(t, l.Allow(1))
	assert.False(t, l.Allow(1))
	assert.True(t, l.Allow(2), "limits are per user")

	assert.Zero(t, l.Prune(time.Hour))
	assert.Equal(t, 2, l.Prune(-time.Second))
	assert.True(t, l.Allow(1), "pruned users start with a full bucket")
}
